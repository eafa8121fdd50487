package e2e

import (
	"context"

	"github.com/stretchr/testify/suite"
)

type BaseHTTPSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseHTTPSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.BaseURL == "" {
		s.T().Skip("E2E_BASE_URL not set")
	}
}

// WithClient provides an API client within a contextual test step
func (s *BaseHTTPSuite) WithClient(name string, fn func(ctx context.Context, client *Client)) {
	t := s.T()
	client := NewClient(s.Config, t.Logf)
	t.Log(client.Header(name))

	ctx, cancel := context.WithTimeout(context.Background(), s.Config.Timeout)
	defer cancel()

	fn(ctx, client)
}

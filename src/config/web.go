package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
)

type WebConfig struct {
	Listen string
	// Token is required as a bearer token on /api when set.
	Token []byte
}

func NewWebConfig(listen, tokenFile string) (WebConfig, error) {
	self := WebConfig{Listen: listen}

	if tokenFile == "" {
		return self, nil
	}

	if v, err := os.ReadFile(tokenFile); err != nil {
		return self, errors.WithMessage(err, "While reading web API token")
	} else {
		self.Token = bytes.TrimSpace(v)
	}

	if len(self.Token) == 0 {
		return self, errors.Errorf("Web API token file %q is empty", tokenFile)
	}

	return self, nil
}

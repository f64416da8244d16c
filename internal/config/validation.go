package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

var validate = validator.New()

// Validate checks struct tags, parses byte sizes into their *Bytes fields,
// and hashes share.password into share.password_hash.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	var err error
	if cfg.Upload.MaxRequestBytes, err = ParseSize(cfg.Upload.MaxRequestSize); err != nil {
		return fmt.Errorf("upload.max_request_size: %w", err)
	}
	if cfg.Upload.MemoryBufferBytes, err = ParseSize(cfg.Upload.MemoryBuffer); err != nil {
		return fmt.Errorf("upload.memory_buffer: %w", err)
	}
	if cfg.Upload.MaxRequestBytes <= 0 {
		return errors.New("upload.max_request_size: must be positive")
	}

	return validateShare(&cfg.Share, cfg.Auth.BcryptCost)
}

func validateShare(s *ShareConfig, cost int) error {
	if s.Root == "" {
		return nil
	}
	if s.Reserved == "" {
		return errors.New("share.reserved: required when share.root is set")
	}
	n, err := ParseSize(s.Reserved)
	if err != nil {
		return fmt.Errorf("share.reserved: %w", err)
	}
	if n <= 0 {
		return errors.New("share.reserved: must be positive")
	}
	s.ReservedBytes = n

	switch {
	case s.PasswordHash != "":
		if _, err := bcrypt.Cost([]byte(s.PasswordHash)); err != nil {
			return fmt.Errorf("share.password_hash: %w", err)
		}
	case s.Password != "":
		if len(s.Password) < 4 {
			return errors.New("share.password: must be at least 4 characters")
		}
		h, err := bcrypt.GenerateFromPassword([]byte(s.Password), cost)
		if err != nil {
			return fmt.Errorf("share.password: %w", err)
		}
		s.PasswordHash = string(h)
	default:
		return errors.New("share: password or password_hash required when root is set")
	}
	s.Password = ""
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}

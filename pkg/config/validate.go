// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package config

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/lxlee/parallelMultiRun/pkg/task"
)

var (
	validate = validator.New()

	envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

func init() {
	// env entries end up as shell assignments on the remote side
	_ = validate.RegisterValidation("envkey", func(fl validator.FieldLevel) bool {
		return envKeyPattern.MatchString(fl.Field().String())
	})
}

// Validate checks hosts and tasks. Unsupported tasks pass; they are
// reported and skipped when the script runs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrConfig, describe(err))
	}

	for i, t := range c.Tasks {
		if _, ok := t.(*task.Unsupported); ok {
			continue
		}
		if err := validate.Struct(t); err != nil {
			return fmt.Errorf("%w: task #%d (%s): %s", ErrConfig, i+1, t.Name(), describe(err))
		}
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("field %s failed on %q (%s)", fe.Namespace(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("field %s failed on %q", fe.Namespace(), fe.Tag())
}

package sentinel

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransient(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"version race":       {fmt.Errorf("update record: %w", ErrConflict), true},
		"concurrent create":  {ErrAlreadyUsed, true},
		"store down":         {fmt.Errorf("query: %w", ErrUnavailable), true},
		"deadline":           {context.DeadlineExceeded, true},
		"missing":            {ErrNotFound, false},
		"relink":             {ErrInvalidState, false},
		"unclassified error": {errors.New("syntax error at or near"), false},
		"nil":                {nil, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Transient(tc.err))
		})
	}
}

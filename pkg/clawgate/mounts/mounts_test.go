package mounts

import (
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	v, err := NewValidator([]string{"/srv/shared", "/home/agent/projects"})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	t.Run("accepts mounts under allowed roots", func(t *testing.T) {
		got, err := v.Validate([]Mount{
			{Source: "/srv/shared/docs", Target: "/workspace/docs"},
			{Source: "/home/agent/projects/site", Target: "/workspace/site", ReadWrite: true},
		})
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d mounts, want 2", len(got))
		}
		if got[0].ReadWrite {
			t.Error("first mount should default to read-only")
		}
		if !got[1].ReadWrite {
			t.Error("second mount should keep read-write")
		}
	})

	t.Run("accepts the root itself", func(t *testing.T) {
		if _, err := v.Validate([]Mount{{Source: "/srv/shared", Target: "/workspace/shared"}}); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	t.Run("rejects traversal", func(t *testing.T) {
		if _, err := v.Validate([]Mount{{Source: "/srv/shared/../../etc", Target: "/workspace/x"}}); err == nil {
			t.Error("expected rejection of traversal path")
		}
	})

	t.Run("rejects outside roots", func(t *testing.T) {
		if _, err := v.Validate([]Mount{{Source: "/etc/passwd", Target: "/workspace/x"}}); err == nil {
			t.Error("expected rejection of path outside roots")
		}
	})

	t.Run("rejects sibling prefix", func(t *testing.T) {
		// /srv/shared-evil shares a string prefix with /srv/shared but is
		// not under it.
		if _, err := v.Validate([]Mount{{Source: "/srv/shared-evil", Target: "/workspace/x"}}); err == nil {
			t.Error("expected rejection of sibling directory")
		}
	})

	t.Run("rejects relative paths", func(t *testing.T) {
		if _, err := v.Validate([]Mount{{Source: "shared/docs", Target: "/workspace/x"}}); err == nil {
			t.Error("expected rejection of relative source")
		}
		if _, err := v.Validate([]Mount{{Source: "/srv/shared/docs", Target: "workspace"}}); err == nil {
			t.Error("expected rejection of relative target")
		}
	})

	t.Run("empty request", func(t *testing.T) {
		got, err := v.Validate(nil)
		if err != nil || got != nil {
			t.Errorf("Validate(nil) = %v, %v; want nil, nil", got, err)
		}
	})
}

func TestNewValidatorRejectsRelativeRoot(t *testing.T) {
	t.Parallel()

	if _, err := NewValidator([]string{"data/mounts"}); err == nil {
		t.Error("expected error for relative allowed root")
	}
}

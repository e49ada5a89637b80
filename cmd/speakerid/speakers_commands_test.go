package main

import (
	"testing"
)

func TestSpeakersLifecycle(t *testing.T) {
	env := setupCLITestEnv(t)

	out := env.mustRun(t, "speakers", "add", "alice", "Alice Smith", "--tag", "team")
	requireContains(t, out, "Added speaker alice (Alice Smith)")

	if _, _, err := env.run(t, "speakers", "add", "alice"); err == nil {
		t.Fatal("expected duplicate speaker error")
	} else if exitCode(err) != 2 {
		t.Fatalf("duplicate speaker exit code = %d", exitCode(err))
	}

	out = env.mustRun(t, "speakers", "list")
	requireContains(t, out, "alice")
	requireContains(t, out, "Alice Smith")
	requireContains(t, out, "team")

	rows := decodeJSON[[]speakerRow](t, env.mustRun(t, "--format", "json", "speakers", "list"))
	if len(rows) != 1 || rows[0].ID != "alice" || rows[0].Embeddings != 0 {
		t.Fatalf("unexpected rows %+v", rows)
	}

	out = env.mustRun(t, "speakers", "set-name", "alice", "Ali", "--context", "podcast")
	requireContains(t, out, `Set podcast name of alice to "Ali"`)
	env.mustRun(t, "speakers", "tag", "alice", "--add", "lead", "--remove", "team")

	out = env.mustRun(t, "speakers", "show", "alice")
	requireContains(t, out, "Name:    Alice Smith")
	requireContains(t, out, "podcast: Ali")
	requireContains(t, out, "Tags:    lead")
	requireNotContains(t, out, "team")
	requireContains(t, out, "(none)")

	out = env.mustRun(t, "speakers", "list", "--tag", "team")
	requireContains(t, out, "No speakers enrolled")
}

func TestSpeakersDeleteRequiresForce(t *testing.T) {
	env := setupCLITestEnv(t)
	env.mustRun(t, "speakers", "add", "bob")

	_, _, err := env.run(t, "speakers", "delete", "bob")
	if err == nil {
		t.Fatal("expected delete without --force to fail")
	}
	requireContains(t, err.Error(), "--force")

	out := env.mustRun(t, "speakers", "delete", "bob", "--force")
	requireContains(t, out, "Deleted speaker bob")

	_, _, err = env.run(t, "speakers", "show", "bob")
	if err == nil || exitCode(err) != 2 {
		t.Fatalf("expected not-found error with exit code 2, got %v", err)
	}
	if _, _, err := env.run(t, "speakers", "delete", "bob", "--force"); err == nil {
		t.Fatal("expected deleting a missing speaker to fail")
	}
}

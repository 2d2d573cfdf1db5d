package memory

import (
	"context"
	"errors"
	"testing"
)

func TestPublisherStoresVersions(t *testing.T) {
	t.Parallel()

	pub := New()
	if err := pub.PublishVersion(context.Background(), "/data/billboard", "Updated on 2025-06-25"); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if err := pub.PublishVersion(context.Background(), "/data/billboard", "Updated on 2025-07-02"); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	versions := pub.Versions()
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].Note != "Updated on 2025-06-25" || versions[1].Note != "Updated on 2025-07-02" {
		t.Fatalf("notes not recorded correctly: %+v", versions)
	}

	versions[0].Note = "modified"
	if pub.Versions()[0].Note == "modified" {
		t.Fatal("expected Versions() to return a copy")
	}
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("boom")
	pub.FailWith(boom)
	if err := pub.PublishVersion(context.Background(), "dir", "note"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(pub.Versions()) != 0 {
		t.Fatal("failed publishes must not be recorded")
	}
}

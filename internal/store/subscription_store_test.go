package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/gr8monk3ys/webhook-engine/internal/domain"
)

// Validation runs before any query, so a zero store is enough here.

func TestCreateSubscription_RejectsInvalidURL(t *testing.T) {
	s := &PostgresStore{}

	cases := []string{
		"",
		"not a url",
		"ftp://example.com/hook",
		"http://",
		"example.com/hook",
	}

	for _, target := range cases {
		_, err := s.CreateSubscription(context.Background(), domain.CreateSubscriptionRequest{
			UserID:     "t1",
			TargetURL:  target,
			EventTypes: []string{"content.generated"},
		})
		if !errors.Is(err, domain.ErrInvalidURL) {
			t.Errorf("target %q: expected ErrInvalidURL, got %v", target, err)
		}
	}
}

func TestCreateSubscription_RejectsEmptyEventTypes(t *testing.T) {
	s := &PostgresStore{}

	for _, types := range [][]string{nil, {}, {"", "  "}} {
		_, err := s.CreateSubscription(context.Background(), domain.CreateSubscriptionRequest{
			UserID:     "t1",
			TargetURL:  "https://example.com/hook",
			EventTypes: types,
		})
		if !errors.Is(err, domain.ErrEmptyEventTypes) {
			t.Errorf("types %v: expected ErrEmptyEventTypes, got %v", types, err)
		}
	}
}

func TestUpdateSubscription_ValidatesPatchedFields(t *testing.T) {
	s := &PostgresStore{}
	badURL := "ftp://example.com"

	_, err := s.UpdateSubscription(context.Background(), "sub-1", domain.UpdateSubscriptionRequest{
		TargetURL: &badURL,
	})
	if !errors.Is(err, domain.ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL, got %v", err)
	}

	_, err = s.UpdateSubscription(context.Background(), "sub-1", domain.UpdateSubscriptionRequest{
		EventTypes: []string{""},
	})
	if !errors.Is(err, domain.ErrEmptyEventTypes) {
		t.Errorf("expected ErrEmptyEventTypes, got %v", err)
	}
}

func TestNormalizeEventTypes(t *testing.T) {
	got, err := normalizeEventTypes([]string{" quota.warning", "content.generated", "quota.warning", "", "batch.completed "})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	want := []string{"batch.completed", "content.generated", "quota.warning"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalized = %v, want %v", got, want)
	}
}

func TestNormalizeEventTypes_Wildcard(t *testing.T) {
	got, err := normalizeEventTypes([]string{"*"})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if len(got) != 1 || got[0] != "*" {
		t.Errorf("wildcard filter should survive normalization, got %v", got)
	}
}

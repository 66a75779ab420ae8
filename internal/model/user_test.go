package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestUserInfo_Merge_OverWins(t *testing.T) {
	claims := UserInfo{"sub": "auth0|1", "name": "Claims Name", "email": "a@example.com"}
	profile := map[string]any{"name": "Backend Name", "recipesCount": 4}

	got := claims.Merge(profile)

	want := UserInfo{"sub": "auth0|1", "name": "Backend Name", "email": "a@example.com", "recipesCount": 4}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
	if claims["name"] != "Claims Name" {
		t.Error("Merge() must not modify the receiver")
	}
}

func TestUserInfo_Merge_Fallback(t *testing.T) {
	got := UserInfo{"sub": "auth0|1"}.Merge(FallbackProfile())

	want := UserInfo{"sub": "auth0|1", "recipesCount": 0, "streak": 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
}

func TestUserInfo_Clone_IsDeep(t *testing.T) {
	orig := UserInfo{
		"sub":   "auth0|1",
		"prefs": map[string]any{"diet": "vegetarian"},
		"tags":  []any{"pasta"},
	}

	c := orig.Clone()
	c["prefs"].(map[string]any)["diet"] = "vegan"
	c["tags"].([]any)[0] = "soup"

	if orig["prefs"].(map[string]any)["diet"] != "vegetarian" {
		t.Error("nested map shared between clone and original")
	}
	if orig["tags"].([]any)[0] != "pasta" {
		t.Error("nested slice shared between clone and original")
	}
	if UserInfo(nil).Clone() != nil {
		t.Error("Clone() of nil should be nil")
	}
}

func TestUserInfo_Accessors(t *testing.T) {
	u := UserInfo{"sub": "auth0|1", "nickname": "chef", "email": "c@example.com", "picture": 42}

	if u.Sub() != "auth0|1" || u.Email() != "c@example.com" {
		t.Errorf("Sub()=%q Email()=%q", u.Sub(), u.Email())
	}
	if u.Name() != "chef" {
		t.Errorf("Name() = %q, want nickname fallback", u.Name())
	}
	if u.Picture() != "" {
		t.Errorf("Picture() = %q, want empty for non-string", u.Picture())
	}
	var empty UserInfo
	if empty.Sub() != "" {
		t.Error("Sub() of nil should be empty")
	}
}

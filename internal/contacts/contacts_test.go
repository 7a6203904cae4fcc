// ABOUTME: Tests for the static and CSV-backed contact directories.
// ABOUTME: Covers identifier matching, filtering, and file parsing.

package contacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticDirectory_FindByIdentifier(t *testing.T) {
	dir := NewStaticDirectory(
		&Contact{ID: "1", Name: "Alice", Email: "alice@example.com", Phone: "+1-305-555-1234", Classification: "client"},
		&Contact{ID: "2", Name: "Vendor Co", Email: "sales@vendor.com", Classification: "vendor"},
	)
	ctx := context.Background()

	byEmail, err := dir.FindByIdentifier(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice", byEmail.Name)

	byPhone, err := dir.FindByIdentifier(ctx, "+1-305-555-1234")
	require.NoError(t, err)
	assert.Equal(t, "Alice", byPhone.Name)

	caseFolded, err := dir.FindByIdentifier(ctx, "ALICE@Example.COM")
	require.NoError(t, err)
	assert.Equal(t, "Alice", caseFolded.Name)

	_, err = dir.FindByIdentifier(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrContactNotFound)

	_, err = dir.FindByIdentifier(ctx, "")
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestStaticDirectory_ReturnsCopies(t *testing.T) {
	source := &Contact{ID: "1", Name: "Alice", Email: "alice@example.com"}
	dir := NewStaticDirectory(source)

	got, err := dir.FindByIdentifier(context.Background(), "alice@example.com")
	require.NoError(t, err)
	got.Name = "changed"

	again, err := dir.FindByIdentifier(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice", again.Name)
}

func TestStaticDirectory_List(t *testing.T) {
	dir := NewStaticDirectory(
		&Contact{ID: "1", Email: "a@example.com", Classification: "client"},
		&Contact{ID: "2", Email: "b@example.com", Classification: "vendor"},
		&Contact{ID: "3", Email: "c@example.com", Classification: "client"},
	)

	all, err := dir.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	clients, err := dir.List(context.Background(), "client")
	require.NoError(t, err)
	assert.Len(t, clients, 2)
}

func TestContact_Identifiers(t *testing.T) {
	both := &Contact{Email: "a@example.com", Phone: "+1-305-555-1234"}
	assert.Equal(t, []string{"a@example.com", "+1-305-555-1234"}, both.Identifiers())

	emailOnly := &Contact{Email: "a@example.com"}
	assert.Equal(t, []string{"a@example.com"}, emailOnly.Identifiers())

	assert.Empty(t, (&Contact{}).Identifiers())
}

func TestCSVDirectory_LoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.csv")
	data := "id,name,email,phone,classification\n" +
		"1,Alice,alice@example.com,+1-305-555-1234,client\n" +
		"2,Vendor Co,sales@vendor.com,,vendor\n" +
		"3,No Identifiers,,,lead\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	dir, err := NewCSVDirectory(path)
	require.NoError(t, err)

	all, err := dir.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2, "rows without identifiers are skipped")

	alice, err := dir.FindByIdentifier(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice", alice.Name)
	assert.Equal(t, "client", alice.Classification)
}

func TestCSVDirectory_MissingFile(t *testing.T) {
	_, err := NewCSVDirectory(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}

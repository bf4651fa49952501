package resource_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/socialhub/resource"
)

func TestDefaultCatalog(t *testing.T) {
	cat, err := resource.DefaultCatalog()
	require.NoError(t, err)

	post, ok := cat.Lookup("post")
	require.True(t, ok)
	assert.Equal(t, []string{"GET", "POST", "PUT", "DELETE"}, post.Methods())
	assert.Equal(t, "public", post.Get.Defaults["visibility"])

	profile, ok := cat.Lookup("profile")
	require.True(t, ok)
	assert.Len(t, profile.Fields, 22)

	register, ok := cat.Lookup("register")
	require.True(t, ok)
	assert.Equal(t, []string{"POST"}, register.Methods())

	friendship, ok := cat.Lookup("friendship")
	require.True(t, ok)
	assert.Equal(t, []string{"userID1", "userID2"}, friendship.Get.Either["userID"])
	assert.Equal(t, []string{"connectionID", "userID1", "userID2", "status", "userID"}, friendship.Params())

	user, ok := cat.Lookup("user")
	require.True(t, ok)
	assert.Equal(t, []string{"GET"}, user.Methods())
}

func TestParseCatalog_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key": `
resources:
  - route: t
    table: t
    id: id
    fields: [id]
    get: {filters: [id], fliters: [id]}`,
		"field outside allow-list": `
resources:
  - route: t
    table: t
    id: id
    fields: [id]
    get: {filters: [other]}`,
		"delete without owner": `
resources:
  - route: t
    table: t
    id: id
    fields: [id, userID]
    delete: {auth: bearer, key: [id]}`,
		"owner outside key": `
resources:
  - route: t
    table: t
    id: id
    fields: [id, userID]
    put: {auth: bearer, owner: userID, key: [id], mutable: [userID]}`,
		"owner without bearer": `
resources:
  - route: t
    table: t
    id: id
    fields: [id, userID]
    delete: {owner: userID, key: [id, userID]}`,
		"mutable key": `
resources:
  - route: t
    table: t
    id: id
    fields: [id, userID, body]
    put: {auth: bearer, owner: userID, key: [id, userID], mutable: [id, body]}`,
		"unknown transform": `
resources:
  - route: t
    table: t
    id: id
    fields: [id]
    transforms: {id: rot13}
    get: {}`,
		"unsafe table name": `
resources:
  - route: t
    table: "t; DROP TABLE users"
    id: id
    fields: [id]
    get: {}`,
		"duplicate route": `
resources:
  - {route: t, table: t, id: id, fields: [id], get: {}}
  - {route: t, table: u, id: id, fields: [id], get: {}}`,
		"either on a write": `
resources:
  - route: t
    table: t
    id: id
    fields: [id, a, b]
    post: {either: {who: [a, b]}}`,
		"either over unknown column": `
resources:
  - route: t
    table: t
    id: id
    fields: [id, a]
    get: {either: {who: [a, c]}}`,
		"either alias shadows a field": `
resources:
  - route: t
    table: t
    id: id
    fields: [id, a, b]
    get: {either: {a: [a, b]}}`,
		"no operations": `
resources:
  - {route: t, table: t, id: id, fields: [id]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := resource.ParseCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalog_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `
resources:
  - route: note
    table: note
    id: noteID
    fields: [noteID, body]
    get: {filters: [noteID]}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cat, err := resource.LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, cat.Resources, 1)
	assert.Equal(t, "note", cat.Resources[0].Route)

	_, err = resource.LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvelope_JSON(t *testing.T) {
	affected := int64(0)
	cases := []struct {
		name string
		env  resource.Envelope
		want string
	}{
		{"message only", resource.Message("check your url and try again"), `{"message":"check your url and try again"}`},
		{"empty rows stay an array", resource.Envelope{Message: "success", Rows: []map[string]any{}}, `{"message":"success","rows":[]}`},
		{"write", resource.Envelope{Message: "success", AffectedCount: &affected}, `{"affectedCount":0,"message":"success"}`},
		{"extra", resource.Envelope{Message: "success", Extra: map[string]any{"token": "t"}}, `{"message":"success","token":"t"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := json.Marshal(tc.env)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

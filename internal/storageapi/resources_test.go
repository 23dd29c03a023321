package storageapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBucket_KeepsRawResponse(t *testing.T) {
	const body = `{"id":"in.c-test","name":"c-test","stage":"in","backend":"snowflake","displayName":"test","description":"","created":"2024-01-01"}`
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/storage/buckets/in.c-test", r.URL.Path)
		fmt.Fprint(w, body)
	}, Options{})

	b, err := c.GetBucket(context.Background(), "in.c-test")
	require.NoError(t, err)
	assert.Equal(t, "c-test", b.Name)
	assert.Equal(t, "snowflake", b.Backend)
	assert.JSONEq(t, body, string(b.Raw))
}

func TestGetTable_IncludesColumnMetadata(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/storage/tables/in.c-main.typed", r.URL.Path)
		assert.Equal(t, "columnMetadata", r.URL.Query().Get("include"))
		fmt.Fprint(w, `{
			"id":"in.c-main.typed","name":"typed","isTyped":true,
			"bucket":{"id":"in.c-main","name":"c-main"},
			"definition":{"primaryKeysNames":["id"],"columns":[
				{"name":"id","definition":{"type":"INT","nullable":false},"basetype":"INTEGER"}
			]}
		}`)
	}, Options{})

	tbl, err := c.GetTable(context.Background(), "in.c-main.typed")
	require.NoError(t, err)
	assert.True(t, tbl.IsTyped)
	assert.Equal(t, "in.c-main", tbl.Bucket.ID)
	require.NotNil(t, tbl.Definition)
	require.Len(t, tbl.Definition.Columns, 1)
	assert.Equal(t, "INT", tbl.Definition.Columns[0].Definition.Type)
	require.NotNil(t, tbl.Definition.Columns[0].Definition.Nullable)
	assert.False(t, *tbl.Definition.Columns[0].Definition.Nullable)
}

func TestListTables(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/storage/buckets/in.c-main/tables", r.URL.Path)
		fmt.Fprint(w, `[{"id":"in.c-main.a","name":"a"},{"id":"in.c-main.b","name":"b"}]`)
	}, Options{})

	tables, err := c.ListTables(context.Background(), "in.c-main")
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "in.c-main.b", tables[1].ID)
	assert.JSONEq(t, `{"id":"in.c-main.b","name":"b"}`, string(tables[1].Raw))
}

func TestCreateTableAsync_StagesAndCreates(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.csv")
	require.NoError(t, os.WriteFile(seed, []byte("\"a\",\"b\"\n"), 0o600))

	var createBody map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/storage/files/prepare":
			var req FilePrepareRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "seed.csv", req.Name)
			assert.Equal(t, int64(8), req.SizeBytes)
			assert.True(t, req.FederationToken)
			fmt.Fprint(w, `{"id":1001,"provider":"aws","region":"us-east-1","uploadParams":{"bucket":"kbc-files","key":"exp-15/seed.csv","credentials":{"AccessKeyId":"AK","SecretAccessKey":"SK","SessionToken":"ST"}}}`)
		case "/v2/storage/buckets/in.c-main/tables-async":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&createBody))
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, `{"id":77,"status":"waiting"}`)
		case "/v2/storage/jobs/77":
			fmt.Fprint(w, `{"id":77,"status":"success","results":{"id":"in.c-main.untyped"}}`)
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	}, Options{})

	var uploaded string
	c.SetUploader(ProviderAWS, UploaderFunc(func(_ context.Context, f *FileResource, path string) error {
		assert.Equal(t, "kbc-files", f.UploadParams.Bucket)
		assert.Equal(t, "AK", f.UploadParams.Credentials.AccessKeyID)
		data, err := os.ReadFile(path)
		uploaded = string(data)
		return err
	}))

	id, err := c.CreateTableAsync(context.Background(), "in.c-main", CreateTableRequest{
		Name:          "untyped",
		PrimaryKey:    []string{"a", "b"},
		Transactional: true,
		Columns:       []string{"a", "b"},
	}, seed)
	require.NoError(t, err)

	assert.Equal(t, "in.c-main.untyped", id)
	assert.Equal(t, "\"a\",\"b\"\n", uploaded)
	assert.Equal(t, "untyped", createBody["name"])
	assert.Equal(t, float64(1001), createBody["dataFileId"])
	assert.Equal(t, "a,b", createBody["primaryKey"])
	assert.Equal(t, true, createBody["transactional"])
	assert.NotContains(t, createBody, "distributionKey")
}

func TestUploadFile_UnsupportedProvider(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "seed.csv")
	require.NoError(t, os.WriteFile(seed, []byte("x\n"), 0o600))

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":5,"provider":"ftp"}`)
	}, Options{})

	_, err := c.UploadFile(context.Background(), seed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported staging provider "ftp"`)
}

func TestS3Uploader_PutsObject(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "seed.csv")
	require.NoError(t, os.WriteFile(seed, []byte("\"id\"\n"), 0o600))

	var gotMethod, gotPath, gotBody string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	})

	u := &S3Uploader{Endpoint: srv}
	err := u.Upload(context.Background(), &FileResource{
		ID:     1,
		Region: "us-east-1",
		UploadParams: &S3UploadParams{
			Bucket:      "kbc-files",
			Key:         "exp-15/seed.csv",
			Credentials: S3Credentials{AccessKeyID: "AK", SecretAccessKey: "SK"},
		},
	}, seed)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/kbc-files/exp-15/seed.csv", gotPath)
	assert.Equal(t, "\"id\"\n", gotBody)
}

func TestUploaders_RequireParams(t *testing.T) {
	ctx := context.Background()
	assert.Error(t, (&S3Uploader{}).Upload(ctx, &FileResource{}, "x"))
	assert.Error(t, (&GCSUploader{}).Upload(ctx, &FileResource{}, "x"))
	assert.Error(t, (&ABSUploader{}).Upload(ctx, &FileResource{}, "x"))
}

func TestCreateTablePrimaryKey_Body(t *testing.T) {
	var body map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/storage/tables/in.c-main.t/primary-key", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}, Options{})

	require.NoError(t, c.CreateTablePrimaryKey(context.Background(), "in.c-main.t", []string{"col1", "col2"}))
	assert.Equal(t, []string{"col1", "col2"}, body["columns"])
}

func TestDeleteTableColumn_Path(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v2/storage/tables/in.c-main.t/columns/col3", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("force"))
		w.WriteHeader(http.StatusNoContent)
	}, Options{})

	require.NoError(t, c.DeleteTableColumn(context.Background(), "in.c-main.t", "col3", DropOptions{Force: true}))
}

func TestPostTableMetadataWithColumns_Body(t *testing.T) {
	var body string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/storage/tables/in.c-main.t/metadata", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		fmt.Fprint(w, `[]`)
	}, Options{})

	err := c.PostTableMetadataWithColumns(context.Background(), "in.c-main.t", TableMetadataUpdate{
		Provider:        "user",
		ColumnsMetadata: map[string][]MetadataKV{"col1": {{Key: "KBC.description", Value: "x"}}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"provider":"user","columnsMetadata":{"col1":[{"key":"KBC.description","value":"x"}]}}`, body)
}

func TestConfigurationRows(t *testing.T) {
	var gotConfiguration, gotDisabled string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		const rows = "/v2/storage/components/kds-team.app-merge-branch-storage/configs/123/rows"
		switch {
		case r.Method == http.MethodGet && r.URL.Path == rows:
			fmt.Fprint(w, `[{"id":"1","name":"Add bucket","isDisabled":false,"configuration":{"parameters":{"action":"ADD_BUCKET"}}}]`)
		case r.Method == http.MethodPut && r.URL.Path == rows+"/1":
			require.NoError(t, r.ParseForm())
			gotConfiguration = r.PostForm.Get("configuration")
			gotDisabled = r.PostForm.Get("isDisabled")
			fmt.Fprint(w, `{"id":"1","name":"Add bucket","isDisabled":true}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}, Options{})

	ctx := context.Background()
	got, err := c.ListConfigurationRows(ctx, "kds-team.app-merge-branch-storage", "123")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Add bucket", got[0].Name)
	assert.JSONEq(t, `{"parameters":{"action":"ADD_BUCKET"}}`, string(got[0].Configuration))

	disabled := true
	row, err := c.UpdateConfigurationRow(ctx, "kds-team.app-merge-branch-storage", "123", "1", RowUpdate{
		Configuration: json.RawMessage(`{"parameters":{"action":"ADD_BUCKET","rawResourceJson":[]}}`),
		IsDisabled:    &disabled,
	})
	require.NoError(t, err)
	assert.True(t, row.IsDisabled)
	assert.JSONEq(t, `{"parameters":{"action":"ADD_BUCKET","rawResourceJson":[]}}`, gotConfiguration)
	assert.Equal(t, "true", gotDisabled)
}

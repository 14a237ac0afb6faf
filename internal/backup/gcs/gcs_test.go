package gcs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		bucket     string
		object     string
		wantErrMsg string
	}{
		{uri: "gs://bkt/monera/backups/b.json", bucket: "bkt", object: "monera/backups/b.json"},
		{uri: "gs://bkt/b.json", bucket: "bkt", object: "b.json"},
		{uri: "s3://bkt/b.json", wantErrMsg: "invalid GCS URI"},
		{uri: "gs://bkt", wantErrMsg: "no object path"},
		{uri: "gs://bkt/", wantErrMsg: "no object path"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseURI(tt.uri)
			if tt.wantErrMsg != "" {
				require.ErrorContains(t, err, tt.wantErrMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.bucket, bucket)
			require.Equal(t, tt.object, object)
		})
	}
}

func TestObjectNaming(t *testing.T) {
	s := New(nil, "bkt", "/monera/backups/")
	require.Equal(t, "monera/backups/migration-backup-1.json", s.ObjectName("migration-backup-1.json"))
	require.Equal(t, "gs://bkt/monera/backups/migration-backup-1.json", s.URI("migration-backup-1.json"))

	bare := New(nil, "bkt", "")
	require.Equal(t, "x.json", bare.ObjectName("x.json"))
}

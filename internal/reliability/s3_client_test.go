package reliability

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewS3ClientRejectsIncompleteCredentials(t *testing.T) {
	log := zerolog.New(io.Discard)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing access key", Config{SecretAccessKey: "s", Bucket: "b"}},
		{"missing secret", Config{AccessKeyID: "a", Bucket: "b"}},
		{"missing bucket", Config{AccessKeyID: "a", SecretAccessKey: "s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewS3Client(context.Background(), tt.cfg, log)
			require.Error(t, err)
		})
	}
}

func TestNewS3ClientAcceptsCompleteCredentials(t *testing.T) {
	log := zerolog.New(io.Discard)
	client, err := NewS3Client(context.Background(), Config{
		AccessKeyID:     "a",
		SecretAccessKey: "s",
		Bucket:          "b",
		Endpoint:        "https://example.r2.cloudflarestorage.com",
	}, log)
	require.NoError(t, err)
	require.NotNil(t, client)
}

package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopUploaderReturnsError(t *testing.T) {
	_, err := NoopUploader{}.Upload(context.Background(), "/tmp/chart.png")
	require.Error(t, err)
}

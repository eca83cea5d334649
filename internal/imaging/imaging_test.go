package imaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNoopGeneratorReturnsError(t *testing.T) {
	_, err := NoopGenerator{}.Render(context.Background(), nil, "EURUSD", "London", time.Now())
	require.Error(t, err)
	require.Contains(t, err.Error(), "EURUSD")
}

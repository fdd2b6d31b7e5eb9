package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatusFromError(t *testing.T) {
	require.Equal(t, http.StatusNotFound, HTTPStatusFromError(ErrConversationNotFound))
	require.Equal(t, http.StatusUnauthorized, HTTPStatusFromError(ErrInvalidCredentials))
	require.Equal(t, http.StatusForbidden, HTTPStatusFromError(ErrOnlySender))
	require.Equal(t, http.StatusConflict, HTTPStatusFromError(ErrLastAdmin))
	require.Equal(t, http.StatusBadRequest, HTTPStatusFromError(ErrEditDeletedMessage))
	require.Equal(t, http.StatusInternalServerError, HTTPStatusFromError(errors.New("boom")))

	// Обернутые ошибки распознаются через errors.Is
	wrapped := fmt.Errorf("remove member: %w", ErrLastAdmin)
	require.Equal(t, http.StatusConflict, HTTPStatusFromError(wrapped))
}

package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractIssueKeys(t *testing.T) {
	t.Run("FindsKeysAcrossTexts", func(t *testing.T) {
		keys := ExtractIssueKeys("PROJ-123: fix login", "feature/ABC2-9-cleanup")
		assert.Equal(t, []string{"PROJ-123", "ABC2-9"}, keys)
	})

	t.Run("DeduplicatesKeepingFirstOccurrence", func(t *testing.T) {
		keys := ExtractIssueKeys("PROJ-1 and PROJ-2", "again PROJ-1")
		assert.Equal(t, []string{"PROJ-1", "PROJ-2"}, keys)
	})

	t.Run("IgnoresLowercaseAndShortPrefixes", func(t *testing.T) {
		assert.Empty(t, ExtractIssueKeys("proj-123 fixed the bug"))
		assert.Empty(t, ExtractIssueKeys("see issue #42"))
	})

	t.Run("NoKeys", func(t *testing.T) {
		assert.Empty(t, ExtractIssueKeys("refactor internals"))
	})
}

package pipeline

import (
	"testing"

	"recordhistory/testutil"
)

// TestPipelineUsesFacadesOnly keeps backend selection in the archive and
// persistence packages.
func TestPipelineUsesFacadesOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "pipeline must go through the archive and persistence facades")
}

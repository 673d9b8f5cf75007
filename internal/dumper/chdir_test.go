package dumper

import (
	"os"
	"testing"
)

// chdir changes the working directory for the duration of the test,
// like testing.T.Chdir (Go 1.24+), which the module's toolchain lacks.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

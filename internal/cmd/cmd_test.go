package cmd

import (
	"bytes"
	"testing"
)

func execRoot(args ...string) (string, error) {
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestStartRequiresExactlyOneArg(t *testing.T) {
	if _, err := execRoot("start"); err == nil {
		t.Fatal("expected error for missing config path")
	}
	if _, err := execRoot("start", "a.toml", "b.toml"); err == nil {
		t.Fatal("expected error for too many args")
	}
}

func TestKillRequiresIDOrAllFlag(t *testing.T) {
	killAllFlag = false
	if _, err := execRoot("kill"); err == nil {
		t.Fatal("expected error when neither cluster id nor --all is given")
	}
}

func TestResumeRequiresClusterID(t *testing.T) {
	if _, err := execRoot("resume"); err == nil {
		t.Fatal("expected error for missing cluster id")
	}
}

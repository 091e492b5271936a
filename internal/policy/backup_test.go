package policy

import (
	"path/filepath"
	"testing"
)

func TestBackupManager_BackupAndRestore_RoundTrips(t *testing.T) {
	c := seededCatalog(t)
	bm, err := NewBackupManager(c, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	backup, err := bm.Backup(&BackupRequest{Format: FormatBundle})
	if err != nil {
		t.Fatalf("unexpected backup error: %v", err)
	}
	if backup.Size == 0 {
		t.Error("expected non-empty backup file")
	}
	if backup.Metadata == nil || backup.Metadata.PolicyCount != 2 {
		t.Errorf("expected metadata counting 2 policies, got %+v", backup.Metadata)
	}

	c.Clear()
	rp, pp, dr := c.Count()
	if rp != 0 || pp != 0 || dr != 0 {
		t.Fatalf("expected catalog cleared before restore, got rp=%d pp=%d dr=%d", rp, pp, dr)
	}

	restoreResult, err := bm.Restore(&RestoreRequest{Location: backup.Location, Options: &ImportOptions{Validate: true, Overwrite: true}})
	if err != nil {
		t.Fatalf("unexpected restore error: %v", err)
	}
	if restoreResult.Restored == 0 {
		t.Error("expected restore to report restored items")
	}

	rp, pp, dr = c.Count()
	if rp != 1 || pp != 1 || dr != 1 {
		t.Errorf("expected catalog repopulated after restore, got rp=%d pp=%d dr=%d", rp, pp, dr)
	}
}

func TestBackupManager_Backup_DefaultsLocationUnderBackupDir(t *testing.T) {
	dir := t.TempDir()
	c := seededCatalog(t)
	bm, err := NewBackupManager(c, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	backup, err := bm.Backup(&BackupRequest{Format: FormatJSON})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if filepath.Dir(backup.Location) != dir {
		t.Errorf("expected backup written under %q, got %q", dir, backup.Location)
	}
}

func TestBackupManager_Restore_UnknownBackupIDErrors(t *testing.T) {
	c := NewCatalog()
	bm, err := NewBackupManager(c, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = bm.Restore(&RestoreRequest{BackupID: "does-not-exist"})
	if err == nil {
		t.Fatal("expected restore of an unknown backup id to error")
	}
}

package snapshot

import "testing"

func TestSnapshotStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	want := CacheStats{Epoch: 7, Gets: 10, Hits: 9, Writes: 3, RejectedWrites: 1, ExpiredEvictedBalance: 2}
	if err := s.SaveCacheData(want); err != nil {
		t.Fatalf("SaveCacheData: %v", err)
	}
	got, ok, err := s.LoadCacheData()
	if err != nil || !ok {
		t.Fatalf("LoadCacheData: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}

	if _, ok, err := s.LoadScavengerState(); err != nil || ok {
		t.Fatalf("expected no scav.data yet: ok=%v err=%v", ok, err)
	}
}

func TestSnapshotEngineDataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	want := EngineData{Blocks: [][]byte{nil, {1, 2, 3}}, NumRanks: 8}
	if err := s.SaveEngineData(want); err != nil {
		t.Fatalf("SaveEngineData: %v", err)
	}
	got, ok, err := s.LoadEngineData()
	if err != nil || !ok {
		t.Fatalf("LoadEngineData: ok=%v err=%v", ok, err)
	}
	if got.NumRanks != want.NumRanks || len(got.Blocks) != len(want.Blocks) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

package admission

import "testing"

func TestAQAdmitsAfterReadmitThreshold(t *testing.T) {
	aq := NewAQ(AQConfig{StartSize: 16, MinSize: 4, MaxSize: 64, ReadmitHitCount: 1})
	const hash = uint64(1234)

	if aq.Admit(hash) {
		t.Fatal("first sighting should not be admitted")
	}
	if !aq.Admit(hash) {
		t.Fatal("second sighting should graduate past ReadmitHitCount=1")
	}
	if aq.Admit(hash) {
		t.Fatal("third sighting should be parked again after graduation")
	}
}

func TestAQResizeClampsToBounds(t *testing.T) {
	aq := NewAQ(AQConfig{StartSize: 10, MinSize: 4, MaxSize: 20})
	if got := aq.Resize(-100); got != 4 {
		t.Fatalf("expected clamp to MinSize 4, got %d", got)
	}
	if got := aq.Resize(1000); got != 20 {
		t.Fatalf("expected clamp to MaxSize 20, got %d", got)
	}
}

func TestRandomAdmissionRatioBounds(t *testing.T) {
	r := NewRandom(RandomConfig{StartRatio: 1.0, StopRatio: 0.0})
	r.SetRatio(2.0) // clamps to StartRatio
	if r.Ratio() != 1.0 {
		t.Fatalf("expected clamp to 1.0, got %f", r.Ratio())
	}
	r.SetRatio(-1.0) // clamps to StopRatio
	if r.Ratio() != 0.0 {
		t.Fatalf("expected clamp to 0.0, got %f", r.Ratio())
	}
}

func TestExpirationAdmitsOnRecurrence(t *testing.T) {
	e := NewExpiration(ExpirationConfig{StartBinSeconds: 60, Multiplier: 2})
	if e.AdmitTTL(30) {
		t.Fatal("first occurrence of a TTL bin should not admit")
	}
	if !e.AdmitTTL(30) {
		t.Fatal("recurring TTL bin should admit")
	}
}

func TestExpirationBinFor(t *testing.T) {
	e := NewExpiration(ExpirationConfig{StartBinSeconds: 60, Multiplier: 2})
	if e.binFor(10) != 0 {
		t.Fatalf("expected bin 0 for ttl below start bin")
	}
	if e.binFor(200) == 0 {
		t.Fatal("expected a higher bin for ttl well above start")
	}
}

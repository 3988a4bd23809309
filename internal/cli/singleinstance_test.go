package cli

import "testing"

func TestAcquire_SecondCallOnSameDeviceFails(t *testing.T) {
	dev := t.TempDir() + "/fake-device"

	l1, err := Acquire(dev)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer l1.Release()

	if _, err := Acquire(dev); err == nil {
		t.Fatal("expected second Acquire against the same device to fail")
	}
}

func TestAcquire_ReleaseAllowsReacquire(t *testing.T) {
	dev := t.TempDir() + "/fake-device"

	l1, err := Acquire(dev)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	l1.Release()

	l2, err := Acquire(dev)
	if err != nil {
		t.Fatalf("re-Acquire after Release: %v", err)
	}
	l2.Release()
}

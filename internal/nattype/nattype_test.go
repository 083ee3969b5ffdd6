package nattype

import "testing"

func TestCanConnectSymmetricNeedsAddressRestrictedOrBetter(t *testing.T) {
	if CanConnect(ResultSymmetric, ResultPortRestricted) {
		t.Fatal("symmetric should not connect to port-restricted")
	}
	if !CanConnect(ResultSymmetric, ResultAddressRestricted) {
		t.Fatal("symmetric should connect to address-restricted")
	}
	if CanConnect(ResultSymmetric, ResultSymmetric) {
		t.Fatal("two symmetric NATs cannot predict each other's port reliably")
	}
}

func TestCanConnectPortRestrictedNeedsPortRestrictedOrBetter(t *testing.T) {
	if CanConnect(ResultPortRestricted, ResultSymmetric) {
		t.Fatal("port-restricted should not connect to symmetric")
	}
	if !CanConnect(ResultPortRestricted, ResultPortRestricted) {
		t.Fatal("port-restricted should connect to port-restricted")
	}
}

func TestCanConnectUnknownNeverConnects(t *testing.T) {
	if CanConnect(ResultUnknown, ResultNone) {
		t.Fatal("unknown should never report connectable")
	}
}

func TestStateIntervalFloorsAtMinimum(t *testing.T) {
	cfg := Config{MinStateInterval: 50}
	if got := StateInterval(cfg, 0); got != 50 {
		t.Fatalf("StateInterval(0) = %v, want 50", got)
	}
}

func TestDetectionRequestRoundTrip(t *testing.T) {
	in := detectionRequest{IsRequest: true, C2Port: 40000}
	out, err := decodeDetectionRequest(encodeDetectionRequest(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestDetectionRequestDoneRoundTrip(t *testing.T) {
	in := detectionRequest{IsRequest: false}
	out, err := decodeDetectionRequest(encodeDetectionRequest(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.IsRequest {
		t.Fatal("expected IsRequest=false to survive round trip")
	}
}

func TestDetectionResultRoundTrip(t *testing.T) {
	out, err := decodeDetectionResult(encodeDetectionResult(ResultFullCone))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != ResultFullCone {
		t.Fatalf("got %v, want %v", out, ResultFullCone)
	}
}

func TestPortRestrictedRequestRoundTrip(t *testing.T) {
	in := portRestrictedRequest{S3P4Addr: "203.0.113.9", S3P4Port: 41000}
	out, err := decodePortRestrictedRequest(encodePortRestrictedRequest(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestPortRestrictedProbeRoundTrip(t *testing.T) {
	out, err := decodePortRestrictedProbe(encodePortRestrictedProbe(0x1122334455667788))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != 0x1122334455667788 {
		t.Fatalf("got %x", out)
	}
}

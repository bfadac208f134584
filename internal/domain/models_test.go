package domain

import "testing"

func TestParseEntryType(t *testing.T) {
	if v, err := ParseEntryType(" In "); err != nil || v != EntryIn {
		t.Fatalf("expected in, got %v %v", v, err)
	}
	if v, err := ParseEntryType("OUT"); err != nil || v != EntryOut {
		t.Fatalf("expected out, got %v %v", v, err)
	}
	if _, err := ParseEntryType("sideways"); err == nil {
		t.Fatalf("expected unknown type to be rejected")
	}
}

func TestParseEntryCategoryRejectsUnknown(t *testing.T) {
	for _, raw := range []string{"sale", "customer_payment", "expense", "adjustment", "supplier_payment"} {
		if _, err := ParseEntryCategory(raw); err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
	}
	if _, err := ParseEntryCategory("refund"); err == nil {
		t.Fatalf("expected unknown category to be rejected")
	}
}

func TestSignedAmount(t *testing.T) {
	in := LedgerEntry{Type: EntryIn, AmountCents: 500}
	out := LedgerEntry{Type: EntryOut, AmountCents: 500}
	if in.SignedAmount() != 500 || out.SignedAmount() != -500 {
		t.Fatalf("unexpected signs: %d %d", in.SignedAmount(), out.SignedAmount())
	}
}

func TestDefaultWalletsAreVirtual(t *testing.T) {
	wallets := DefaultWallets("tenant-test")
	if len(wallets) != 3 {
		t.Fatalf("expected 3 default wallets, got %d", len(wallets))
	}
	for _, w := range wallets {
		if !w.IsDefault || w.TenantID != "tenant-test" || w.BalanceCents != 0 {
			t.Fatalf("unexpected default wallet %+v", w)
		}
	}
}

package markers

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestReadMissingIsAbsent(t *testing.T) {
	s := New(t.TempDir())
	v, ok, err := s.Read(RemoteServer)
	if err != nil || ok || v != "" {
		t.Fatalf("missing marker: v=%q ok=%v err=%v", v, ok, err)
	}
	if sb, err := s.Server(); err != nil || sb != nil {
		t.Fatalf("server: %v %v", sb, err)
	}
	if wb, err := s.Wifi(); err != nil || wb != nil {
		t.Fatalf("wifi: %v %v", wb, err)
	}
}

func TestWriteReadRemove(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	for i := 0; i < 2; i++ {
		if err := s.Write(SixPaymentTerminal, "TID-42"); err != nil {
			t.Fatalf("write #%d: %v", i, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "odoo-six-payment-terminal.conf")); err != nil {
		t.Fatalf("marker file name: %v", err)
	}
	id, err := s.SixTerminal()
	if err != nil || id != "TID-42" {
		t.Fatalf("six terminal: %q %v", id, err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Remove(SixPaymentTerminal); err != nil {
			t.Fatalf("remove #%d: %v", i, err)
		}
	}
	if s.Exists(SixPaymentTerminal) {
		t.Fatalf("marker still present")
	}
}

func TestServerBindingRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	err := s.Update(func(tx *Tx) error {
		return tx.SetServer(ServerBinding{URL: "https://pos.example.com", AuthToken: "secret123"})
	})
	if err != nil {
		t.Fatal(err)
	}
	sb, err := s.Server()
	if err != nil || sb == nil {
		t.Fatalf("server: %v %v", sb, err)
	}
	if sb.URL != "https://pos.example.com" || sb.AuthToken != "secret123" {
		t.Fatalf("binding: %+v", sb)
	}
	// the OS scripts only look at the first line
	url, ok, _ := s.Read(RemoteServer)
	if !ok || url != "https://pos.example.com" {
		t.Fatalf("first line: %q", url)
	}
}

func TestUpdateErrorPropagates(t *testing.T) {
	s := New(t.TempDir())
	boom := errors.New("boom")
	if err := s.Update(func(tx *Tx) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
}

func TestUpdateSerializes(t *testing.T) {
	s := New(t.TempDir())
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(func(tx *Tx) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				err := tx.SetWifi(WifiBinding{SSID: "Home"})
				mu.Lock()
				inside--
				mu.Unlock()
				return err
			})
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("updates overlapped: %d", maxSeen)
	}
}

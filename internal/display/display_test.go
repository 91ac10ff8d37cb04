package display

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func newTestConsole(opts ...Option) (*Console, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return New(&out, &errOut, Strings{}, opts...), &out, &errOut
}

func TestConsole_Surfaces(t *testing.T) {
	t.Parallel()

	c, out, errOut := newTestConsole()
	c.Progress()
	c.Recognized("ciao sofi")
	c.Buffering("accendi la luce")
	c.Countdown(2)
	c.Sending("accendi la luce")
	c.Response("Fatto.")
	c.Error("boom")

	want := ".\nYou said: ciao sofi\n" +
		"\rPending: accendi la luce [...]" +
		"\rSending in 2 seconds... " +
		"\nSending: accendi la luce\n" +
		"\nAPI response: Fatto.\n"
	if got := out.String(); got != want {
		t.Errorf("out = %q\nwant %q", got, want)
	}
	if got := errOut.String(); got != "\nError: boom\n" {
		t.Errorf("errOut = %q", got)
	}
}

func TestConsole_EmptyTextIsSilent(t *testing.T) {
	t.Parallel()

	c, out, _ := newTestConsole()
	c.Recognized("")
	c.Buffering("")
	c.Response("")
	if out.Len() != 0 {
		t.Errorf("out = %q, want empty", out.String())
	}
}

func TestConsole_WithoutProgress(t *testing.T) {
	t.Parallel()

	c, out, _ := newTestConsole(WithoutProgress())
	c.Progress()
	if out.Len() != 0 {
		t.Errorf("out = %q, want empty", out.String())
	}
}

func TestConsole_CustomStrings(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := New(&out, &out, Strings{RecognizedPrefix: "Hai detto: ", CountdownFormat: "[%d]"})
	c.Recognized("buongiorno")
	c.Countdown(3)
	if got := out.String(); got != "Hai detto: buongiorno\n[3]" {
		t.Errorf("out = %q", got)
	}
}

func TestConsole_Banner(t *testing.T) {
	t.Parallel()

	c, out, _ := newTestConsole()
	c.Banner("sofi", true)
	if !strings.Contains(out.String(), "'Sofi'") {
		t.Errorf("banner missing capitalised wake word: %q", out.String())
	}

	c2, out2, _ := newTestConsole()
	c2.Banner("sofi", false)
	if strings.Contains(out2.String(), "wake word") {
		t.Errorf("banner mentions wake word while disabled: %q", out2.String())
	}
}

func TestConsole_ConcurrentWritesDoNotInterleave(t *testing.T) {
	t.Parallel()

	c, out, _ := newTestConsole()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Recognized("abc")
		}()
	}
	wg.Wait()
	if got := strings.Count(out.String(), "\nYou said: abc\n"); got != 50 {
		t.Errorf("complete lines = %d, want 50", got)
	}
}

package anycubic

import (
	"errors"
	"math/rand"
	"os"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

const fuzzAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789._/ "

// randomToken returns a lowercase token that never contains the delimiter
func randomToken(rng *rand.Rand) string {
	n := rng.Intn(12)
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(fuzzAlphabet[rng.Intn(len(fuzzAlphabet))])
	}
	return b.String()
}

var fuzzRunes = []rune("abcXYZ019 -_模型打印机中文测试树脂")

func randomText(rng *rand.Rand) string {
	n := rng.Intn(16)
	runes := make([]rune, n)
	for i := range runes {
		runes[i] = fuzzRunes[rng.Intn(len(fuzzRunes))]
	}
	return string(runes)
}

// isDecodeError reports whether err is one of the errors a reply can decode to
func isDecodeError(err error) bool {
	var (
		merr *MalformedResponseError
		perr *ProtocolError
	)
	return errors.As(err, &merr) || errors.As(err, &perr)
}

// ============================================================
// Codec Fuzz Tests
// ============================================================

// TestFuzzDecodeResponse_RandomBytes feeds random bytes to the response decoder
// and verifies it only fails with typed errors
func TestFuzzDecodeResponse_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		length := rng.Intn(256)
		data := make([]byte, length)
		rng.Read(data)

		if _, err := DecodeResponse(data, CmdGetStatus); err != nil && !isDecodeError(err) {
			t.Errorf("Round %d: untyped error %T: %v", i, err, err)
		}
	}
}

// TestFuzzSplitTokens_RoundTrip builds replies from random tokens and verifies
// the payload comes back unchanged
func TestFuzzSplitTokens_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		tokens := make([]string, rng.Intn(12))
		for j := range tokens {
			tokens[j] = randomToken(rng)
		}

		var raw strings.Builder
		raw.WriteString(CmdGetFile + ",")
		for _, tok := range tokens {
			raw.WriteString(tok + ",")
		}
		raw.WriteString("end")

		got, err := SplitTokens([]byte(raw.String()), 1)
		if err != nil {
			t.Errorf("Round %d: unexpected error: %v", i, err)
			continue
		}
		if !reflect.DeepEqual(got, tokens) {
			t.Errorf("Round %d: tokens mismatch: expected %q, got %q", i, tokens, got)
		}
	}
}

// TestFuzzText_RoundTrip encodes random mixed-script text to GBK and back
func TestFuzzText_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		text := randomText(rng)
		encoded, err := EncodeText(text)
		if err != nil {
			t.Errorf("Round %d: encode %q: %v", i, text, err)
			continue
		}
		decoded, err := DecodeText(encoded)
		if err != nil {
			t.Errorf("Round %d: decode %q: %v", i, text, err)
			continue
		}
		if decoded != text {
			t.Errorf("Round %d: text mismatch: expected %q, got %q", i, text, decoded)
		}
	}
}

// ============================================================
// Record Fuzz Tests
// ============================================================

// TestFuzzParseStatus_RandomTokens feeds random token lists to the status
// parser and verifies it never panics and only fails as malformed
func TestFuzzParseStatus_RandomTokens(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	codes := []string{"print", "pause", "finish", "stop", "busy", ""}
	for i := 0; i < rounds; i++ {
		tokens := []string{codes[rng.Intn(len(codes))]}
		n := rng.Intn(14)
		for j := 0; j < n; j++ {
			if rng.Intn(2) == 0 {
				tokens = append(tokens, strconv.Itoa(rng.Intn(100000)))
			} else {
				tokens = append(tokens, randomToken(rng))
			}
		}

		status, err := ParseStatus(tokens)
		if err != nil {
			var merr *MalformedResponseError
			if !errors.As(err, &merr) {
				t.Errorf("Round %d: expected *MalformedResponseError, got %T", i, err)
			}
			continue
		}
		if status.Code.HasJob() != (status.Job != nil) {
			t.Errorf("Round %d: code %q with job %v", i, status.Code, status.Job)
		}
	}
}

// TestFuzzParseFiles_RandomTokens verifies every accepted listing has one
// entry per token
func TestFuzzParseFiles_RandomTokens(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		tokens := make([]string, rng.Intn(8))
		for j := range tokens {
			tokens[j] = randomToken(rng)
		}

		files, err := ParseFiles(tokens)
		if err != nil {
			var merr *MalformedResponseError
			if !errors.As(err, &merr) {
				t.Errorf("Round %d: expected *MalformedResponseError, got %T", i, err)
			}
			continue
		}
		if len(files) != len(tokens) {
			t.Errorf("Round %d: expected %d files, got %d", i, len(tokens), len(files))
		}
	}
}

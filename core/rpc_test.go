package core

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
)

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	frame, err := encodeMessage(VerbGetLastBlock, GetLastBlockPayload{LatestBlockHeight: 7})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frame[len(frame)-1] != '|' {
		t.Fatal("expected frame to end with '|' delimiter")
	}

	msg, err := decodeMessage(frame[:len(frame)-1])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Verb != VerbGetLastBlock {
		t.Fatalf("verb = %q, want %q", msg.Verb, VerbGetLastBlock)
	}
	var body GetLastBlockPayload
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.LatestBlockHeight != 7 {
		t.Fatalf("LatestBlockHeight = %d, want 7", body.LatestBlockHeight)
	}
}

func TestFrameSplitterHandlesCoalescedMessages(t *testing.T) {
	f1, _ := encodeMessage(VerbEnd, EndPayload{ServerAddress: "127.0.0.1:9100"})
	f2, _ := encodeMessage(VerbGetLastBlock, GetLastBlockPayload{LatestBlockHeight: 3})

	var buf bytes.Buffer
	buf.Write(f1)
	buf.Write(f2)

	scanner := bufio.NewScanner(&buf)
	scanner.Split(frameSplitter)

	var verbs []Verb
	for scanner.Scan() {
		msg, err := decodeMessage(scanner.Bytes())
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		verbs = append(verbs, msg.Verb)
	}
	if len(verbs) != 2 || verbs[0] != VerbEnd || verbs[1] != VerbGetLastBlock {
		t.Fatalf("unexpected verb sequence: %v", verbs)
	}
}

func TestDecodeMessageRejectsMalformedFrame(t *testing.T) {
	if _, err := decodeMessage([]byte("not json")); err == nil {
		t.Fatal("expected error decoding malformed frame")
	}
}

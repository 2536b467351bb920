package core

import (
	"context"
	"testing"
	"time"
)

func TestPuzzleParamsValidatesFractionalPart(t *testing.T) {
	if _, _, ok := puzzleParams(1.25); ok {
		t.Fatal("expected 1.25 to be rejected")
	}
	if w, half, ok := puzzleParams(2.5); !ok || w != 2 || !half {
		t.Fatalf("puzzleParams(2.5) = (%d, %v, %v), want (2, true, true)", w, half, ok)
	}
	if w, half, ok := puzzleParams(3); !ok || w != 3 || half {
		t.Fatalf("puzzleParams(3) = (%d, %v, %v), want (3, false, true)", w, half, ok)
	}
}

func TestAcceptsPuzzleHash(t *testing.T) {
	if !acceptsPuzzleHash("00ab", 2, false) {
		t.Fatal("expected leading-zero prefix to be accepted")
	}
	if acceptsPuzzleHash("01ab", 2, false) {
		t.Fatal("expected non-zero second digit to be rejected")
	}
	if !acceptsPuzzleHash("001ab", 2, true) {
		t.Fatal("expected half-byte digit '1' to be accepted")
	}
	if acceptsPuzzleHash("002ab", 2, true) {
		t.Fatal("expected half-byte digit '2' to be rejected")
	}
}

func TestPuzzleConsensusMineFindsSolutionAtDifficultyOne(t *testing.T) {
	c := NewPuzzleConsensus(1, nil)
	block := NewGenesisBlock(ConsensusPuzzle, ZeroAddress, nil, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outcome, err := c.Mine(ctx, block)
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if outcome != Found {
		t.Fatalf("outcome = %v, want Found", outcome)
	}
	if block.Hash()[0] != '0' {
		t.Fatalf("mined hash does not begin with '0': %s", block.Hash())
	}
}

func TestPuzzleConsensusStopPreempts(t *testing.T) {
	c := NewPuzzleConsensus(64, nil) // unreachable at practical speed within the test
	block := NewGenesisBlock(ConsensusPuzzle, ZeroAddress, nil, 0)

	done := make(chan struct{})
	var outcome Outcome
	go func() {
		outcome, _ = c.Mine(context.Background(), block)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Mine did not return after Stop")
	}
	if outcome != Preempted {
		t.Fatalf("outcome = %v, want Preempted", outcome)
	}
}

func TestPuzzleConsensusRejectsInvalidDifficulty(t *testing.T) {
	c := NewPuzzleConsensus(1.25, nil)
	block := NewGenesisBlock(ConsensusPuzzle, ZeroAddress, nil, 0)
	_, err := c.Mine(context.Background(), block)
	if err != ErrInvalidDifficulty {
		t.Fatalf("err = %v, want ErrInvalidDifficulty", err)
	}
}

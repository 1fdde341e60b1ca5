package service

// Package service implements the script manager: submission, execution and
// lifecycle management of named scripts.
//
// Overview
// The Manager owns a Registry of uniquely named Scripts and a bounded pool
// of workers. Clients submit a script by name, the source is compiled right
// away so syntax errors never reach the queue. The compiled script is
// registered and handed to the pool.
//
// A Script wraps the compiled program, its state and its output log. It
// runs at most once and ends in exactly one terminal state.
//
// Data flow:
//
//   Manager                 pool                     Script
//      |                      |                         |
//   Submit -> compile         |                         |
//      | register ----------->|                         |
//      | dispatch ----------->| free worker? ---------->| Run()
//      |                      | otherwise pending FIFO  | engine writes to splitter
//      |                      |                         |   -> ring buffer
//      |                      |                         |   -> live streams
//      |                      |<-- worker picks next ---| terminal state
//
// Invariants:
//   - At most `workers` scripts run at a time, pending ones start in
//     submission order.
//   - workers == 0 runs a script synchronously inside Submit.
//   - A pending script deleted before its turn is Canceled and never runs.
//   - Stop only requests interruption, the worker records Canceled.
//   - Close interrupts running scripts, cancels pending ones and waits for
//     all workers.
//
// internal/service/service_test.go is the best source about how to use
// the Manager.

// # Go Client Package for Realtime Voice Sessions
//
// This repository provides a Go package for building applications that hold real-time, two-way voice conversations with a speech-to-speech model over a persistent WebSocket transport. It is designed to be imported into your own Go projects, providing the core functionality to handle microphone capture, low-latency interruptible playback, turn-taking, and session management.
package voicewire

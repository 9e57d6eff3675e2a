// Command voicelive is a real-time voice session client: live microphone
// and speaker audio over a duplex channel, transcripts, optional avatar
// media, and per-model usage accounting.
package main

import "github.com/vocalis-ai/voicelive/internal/cli"

func main() {
	cli.Execute()
}

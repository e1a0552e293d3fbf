// Command dictateclient streams a WAV recording to the dictation endpoint and
// prints the transcript and the resolved draft.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	grpcapi "voice-invoice-service/internal/api/grpc"
	httpapi "voice-invoice-service/internal/http"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// 100ms chunks of 16kHz 16-bit mono audio
const chunkSize = 3200
const chunkInterval = 100 * time.Millisecond

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16-bit mono PCM)")
	wsURL := flag.String("ws", "ws://localhost:8080/v1/dictation", "Dictation WebSocket URL")
	grpcAddr := flag.String("grpc", "", "Use the gRPC StreamDictation method at this address instead of WebSocket")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	if err := readHeader(f); err != nil {
		log.Fatalf("Invalid audio file: %v", err)
	}

	if *grpcAddr != "" {
		streamGRPC(*grpcAddr, f)
		return
	}
	streamWebSocket(*wsURL, f)
}

func readHeader(r io.Reader) error {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return fmt.Errorf("not a WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 { // PCM
		return fmt.Errorf("only PCM format supported")
	}
	if sampleRate != 16000 {
		log.Printf("Warning: Sample rate is %d Hz, expected 16000 Hz", sampleRate)
	}
	return nil
}

// sendChunks reads r in real-time sized chunks and hands each to send.
func sendChunks(r io.Reader, send func([]byte) error) {
	chunk := make([]byte, chunkSize)
	var total int64
	var n int
	start := time.Now()
	for {
		read, err := r.Read(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}
		n++
		total += int64(read)
		if err := send(chunk[:read]); err != nil {
			log.Fatalf("Failed to send chunk: %v", err)
		}
		if n%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", n, total)
		}
		time.Sleep(chunkInterval)
	}
	log.Printf("Finished streaming: %d chunks, %d bytes in %v", n, total, time.Since(start))
}

func streamWebSocket(url string, audio io.Reader) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", url)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m httpapi.Message
			if err := conn.ReadJSON(&m); err != nil {
				log.Printf("Connection closed: %v", err)
				return
			}
			switch m.Type {
			case httpapi.MessageSession:
				log.Printf("Session %s", m.SessionID)
			case httpapi.MessageState:
				log.Printf("[%s] %s | %s", m.State.State, m.State.FinalText, m.State.InterimText)
			case httpapi.MessageDraft:
				printJSON(m.Draft)
				return
			case httpapi.MessageError:
				log.Printf("Error: %s", m.Error)
			}
		}
	}()

	if err := conn.WriteJSON(httpapi.Control{Type: "start"}); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	sendChunks(audio, func(b []byte) error {
		return conn.WriteMessage(websocket.BinaryMessage, b)
	})
	if err := conn.WriteJSON(httpapi.Control{Type: "stop"}); err != nil {
		log.Fatalf("Failed to stop: %v", err)
	}

	log.Println("Waiting for draft...")
	select {
	case <-done:
	case <-time.After(60 * time.Second):
		log.Println("Timed out waiting for draft")
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func streamGRPC(addr string, audio io.Reader) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", addr)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	stream, err := conn.NewStream(ctx, &grpcapi.ServiceDesc.Streams[0], "/"+grpcapi.ServiceName+"/StreamDictation")
	if err != nil {
		log.Fatalf("Failed to create stream: %v", err)
	}
	sendChunks(audio, func(b []byte) error {
		return stream.SendMsg(wrapperspb.Bytes(b))
	})
	if err := stream.CloseSend(); err != nil {
		log.Fatalf("Failed to close stream: %v", err)
	}

	log.Println("Closing stream, waiting for draft...")
	out := new(structpb.Struct)
	if err := stream.RecvMsg(out); err != nil {
		log.Fatalf("Dictation failed: %v", err)
	}
	b, _ := protojson.MarshalOptions{Multiline: true}.Marshal(out)
	fmt.Println(string(b))
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Printf("Failed to render draft: %v", err)
		return
	}
	fmt.Println(string(b))
}

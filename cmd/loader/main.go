package main

import (
	"bytes"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"
	"time"

	"github.com/atlassian/gobrubeck/pkg/sampler"
)

func main() {
	opts := parseArgs(os.Args[1:])

	bufSize := opts.DatagramSize
	var seal func([]byte) []byte
	if opts.SecureKey != "" {
		if bufSize > sampler.MaxSecurePayload {
			bufSize = sampler.MaxSecurePayload
		}
		seal = newSealer([]byte(opts.SecureKey), rand.New(rand.NewSource(rand.Int63())))
	}

	pendingWorkers := make(chan struct{}, opts.Workers)
	metricGenerators := make([]*metricGenerator, 0, opts.Workers)
	for i := uint(0); i < opts.Workers; i++ {
		generator := newMetricGenerator(rand.New(rand.NewSource(rand.Int63())), &opts, uint64(opts.Workers))
		metricGenerators = append(metricGenerators, generator)
		go sendMetricsWorker(
			opts.Target,
			bufSize,
			opts.Rate/opts.Workers,
			generator,
			seal,
			pendingWorkers,
		)
	}

	runningWorkers := opts.Workers
	statusTicker := time.NewTicker(1 * time.Second)
	defer statusTicker.Stop()
	for runningWorkers > 0 {
		select {
		case <-pendingWorkers:
			runningWorkers--
		case <-statusTicker.C:
			remaining := make([]uint64, len(metricGenerators[0].kinds))
			for _, mg := range metricGenerators {
				for i, md := range mg.kinds {
					remaining[i] += md.remaining()
				}
			}
			parts := make([]string, 0, len(remaining))
			for i, md := range metricGenerators[0].kinds {
				parts = append(parts, fmt.Sprintf("%d %ss", remaining[i], md.kind))
			}
			fmt.Println(strings.Join(parts, ", "))
		}
	}
}

// newSealer returns a function wrapping a payload in a secure envelope stamped with
// the current time and a random nonce. It is safe for concurrent use.
func newSealer(key []byte, rnd *rand.Rand) func([]byte) []byte {
	nonces := make(chan uint32, 64)
	go func() {
		for {
			nonces <- rnd.Uint32()
		}
	}()
	return func(payload []byte) []byte {
		return sampler.SealEnvelope(key, time.Now(), <-nonces, payload)
	}
}

func sendMetricsWorker(
	address string,
	bufSize uint,
	rate uint,
	generator *metricGenerator,
	seal func([]byte) []byte,
	chDone chan<- struct{},
) {
	s, err := net.DialTimeout("udp", address, 1*time.Second)
	if err != nil {
		panic(err)
	}
	defer s.Close()

	send := func(p []byte) error {
		if seal != nil {
			p = seal(p)
		}
		_, err := s.Write(p)
		return err
	}

	b := &bytes.Buffer{}

	interval := time.Second / time.Duration(rate)

	next := time.Now().Add(interval)

	sb := &strings.Builder{}
	for generator.next(sb) {
		if uint(b.Len()+sb.Len()) > bufSize {
			timeToFlush := time.Until(next)
			if timeToFlush > 0 {
				time.Sleep(timeToFlush)
			}
			if err := send(b.Bytes()); err != nil {
				fmt.Printf("Pausing for 1 second, error sending packet: %v\n", err)
				time.Sleep(1 * time.Second)
			}
			b.Reset()
			next = next.Add(interval)
		}
		b.WriteString(sb.String())
		sb.Reset()
	}

	if b.Len() > 0 {
		if err := send(b.Bytes()); err != nil {
			panic(err)
		}
	}
	chDone <- struct{}{}
}

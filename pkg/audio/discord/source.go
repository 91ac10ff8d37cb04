// Package discord captures speech from a Discord voice channel and plays
// synthesized replies back into it, using bwmarrin/discordgo for the voice
// connection and layeh.com/gopus for the Opus codec.
//
// Every speaker (SSRC) gets its own Opus decoder and its own phrase
// listener, so overlapping speakers produce separate samples instead of one
// garbled phrase. All samples go to the same sink.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/sofi/pkg/audio"
	"github.com/MrWong99/sofi/pkg/audio/listener"
	"github.com/bwmarrin/discordgo"
)

var (
	_ audio.Source       = (*Source)(nil)
	_ audio.DeviceLister = (*Source)(nil)
	_ audio.Player       = (*Source)(nil)
)

// ErrNotConnected is returned when an operation needs a joined voice channel.
var ErrNotConnected = errors.New("discord: not connected to a voice channel")

const framesBuffer = 128

// ssrcFrame is a decoded frame tagged with its speaker.
type ssrcFrame struct {
	ssrc  uint32
	frame audio.Frame
}

// Source is an [audio.Source] and [audio.Player] backed by one Discord
// voice connection.
type Source struct {
	session *discordgo.Session
	guildID string
	cfg     listener.Config

	// join and leave are swapped out in tests.
	join  func(channelID string) (*discordgo.VoiceConnection, error)
	leave func(vc *discordgo.VoiceConnection) error

	base *listener.Listener // calibrated threshold shared by new speakers

	mu     sync.Mutex
	vc     *discordgo.VoiceConnection
	frames chan ssrcFrame
	done   chan struct{}
	closed bool

	playMu sync.Mutex
}

// New returns a Source for the given guild. The session must already be
// open; see [NewSession].
func New(session *discordgo.Session, guildID string, cfg listener.Config) *Source {
	s := &Source{
		session: session,
		guildID: guildID,
		cfg:     cfg,
		base:    listener.New(cfg),
	}
	s.join = func(channelID string) (*discordgo.VoiceConnection, error) {
		// Not muted so replies can be played, not deafened so we receive audio.
		return session.ChannelVoiceJoin(guildID, channelID, false, false)
	}
	s.leave = func(vc *discordgo.VoiceConnection) error { return vc.Disconnect() }
	return s
}

// NewSession creates and opens a bot session with the intents needed to
// join voice channels.
func NewSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, errors.New("discord: bot token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return session, nil
}

// Threshold returns the calibrated energy threshold used for new speakers.
func (s *Source) Threshold() float64 { return s.base.Threshold() }

// Open joins the voice channel with ID device.
func (s *Source) Open(_ context.Context, device string) error {
	if device == "" {
		return errors.New("discord: voice channel ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vc != nil {
		return errors.New("discord: already connected")
	}

	vc, err := s.join(device)
	if err != nil {
		return fmt.Errorf("discord: join voice channel %q: %w", device, err)
	}
	s.vc = vc
	s.frames = make(chan ssrcFrame, framesBuffer)
	s.done = make(chan struct{})
	go s.recvLoop(vc, s.frames, s.done)

	slog.Info("discord: joined voice channel", "guild", s.guildID, "channel", device)
	return nil
}

// recvLoop decodes incoming packets and publishes them tagged by SSRC.
// Frames are dropped rather than blocking the voice connection.
func (s *Source) recvLoop(vc *discordgo.VoiceConnection, out chan<- ssrcFrame, done <-chan struct{}) {
	defer close(out)

	decoders := make(map[uint32]*opusDecoder)
	for {
		var (
			pkt *discordgo.Packet
			ok  bool
		)
		select {
		case <-done:
			return
		case pkt, ok = <-vc.OpusRecv:
		}
		if !ok {
			return
		}
		if pkt == nil {
			continue
		}

		dec, exists := decoders[pkt.SSRC]
		if !exists {
			var err error
			if dec, err = newOpusDecoder(); err != nil {
				slog.Error("discord: create decoder", "ssrc", pkt.SSRC, "error", err)
				continue
			}
			decoders[pkt.SSRC] = dec
		}

		pcm, err := dec.decode(pkt.Opus)
		if err != nil {
			slog.Debug("discord: dropping undecodable packet", "ssrc", pkt.SSRC, "error", err)
			continue
		}

		f := audio.Frame{
			Data:      pcm,
			Format:    opusFormat,
			Timestamp: time.Duration(pkt.Timestamp) * time.Second / opusSampleRate,
		}
		select {
		case out <- ssrcFrame{ssrc: pkt.SSRC, frame: f}:
		case <-done:
			return
		default:
		}
	}
}

func (s *Source) stream() (<-chan ssrcFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == nil {
		return nil, ErrNotConnected
	}
	return s.frames, nil
}

// Calibrate adapts the base threshold to d of audio from whoever is
// transmitting. Discord suppresses silence, so calibration gives up without
// error if nobody speaks within d.
func (s *Source) Calibrate(ctx context.Context, d time.Duration) error {
	in, err := s.stream()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	frames := make(chan audio.Frame)
	go func() {
		defer close(frames)
		conv := audio.Converter{Target: audio.Mono16k}
		for {
			select {
			case <-ctx.Done():
				return
			case sf, ok := <-in:
				if !ok {
					return
				}
				select {
				case frames <- conv.Convert(sf.frame):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	err = s.base.Calibrate(ctx, frames, d)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, listener.ErrNoAudio):
		slog.Info("discord: no audio during calibration, keeping threshold", "threshold", s.base.Threshold())
		return nil
	case err != nil:
		return fmt.Errorf("discord: calibrate: %w", err)
	}
	return nil
}

// Listen starts one phrase listener per speaker.
func (s *Source) Listen(ctx context.Context, sink audio.Sink, maxPhrase time.Duration) (func(), error) {
	in, err := s.stream()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	speakers := make(map[uint32]chan audio.Frame)
	converters := make(map[uint32]*audio.Converter)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			for _, ch := range speakers {
				close(ch)
			}
		}()
		for {
			var (
				sf ssrcFrame
				ok bool
			)
			select {
			case <-ctx.Done():
				return
			case sf, ok = <-in:
			}
			if !ok {
				return
			}

			ch, exists := speakers[sf.ssrc]
			if !exists {
				ch = make(chan audio.Frame, framesBuffer)
				speakers[sf.ssrc] = ch
				converters[sf.ssrc] = &audio.Converter{Target: audio.Mono16k}

				l := listener.New(s.cfg)
				l.SetThreshold(s.base.Threshold())
				ssrc := strconv.FormatUint(uint64(sf.ssrc), 10)
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := l.Run(ctx, ch, sink, maxPhrase); err != nil {
						slog.Error("discord: listener stopped", "ssrc", ssrc, "error", err)
					}
				}()
				slog.Debug("discord: new speaker", "ssrc", ssrc)
			}

			select {
			case ch <- converters[sf.ssrc].Convert(sf.frame):
			default:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

// Play encodes pcm to Opus and sends it into the voice channel, blocking
// until the last packet is queued or ctx is done. Concurrent calls are
// serialised.
func (s *Source) Play(ctx context.Context, pcm []byte, f audio.Format) error {
	s.mu.Lock()
	vc, done := s.vc, s.done
	s.mu.Unlock()
	if vc == nil {
		return ErrNotConnected
	}

	s.playMu.Lock()
	defer s.playMu.Unlock()

	enc, err := newOpusEncoder()
	if err != nil {
		return err
	}

	pcm = audio.ConvertPCM(pcm, f, opusFormat)
	if rem := len(pcm) % opusFrameBytes; rem != 0 {
		pcm = append(pcm, make([]byte, opusFrameBytes-rem)...)
	}

	setSpeaking(vc, true)
	defer setSpeaking(vc, false)

	for off := 0; off < len(pcm); off += opusFrameBytes {
		packet, err := enc.encode(pcm[off : off+opusFrameBytes])
		if err != nil {
			return err
		}
		select {
		case vc.OpusSend <- packet:
		case <-done:
			return ErrNotConnected
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func setSpeaking(vc *discordgo.VoiceConnection, b bool) {
	if err := vc.Speaking(b); err != nil {
		slog.Debug("discord: speaking notification failed", "speaking", b, "error", err)
	}
}

// Devices lists the voice channels of the guild.
func (s *Source) Devices(context.Context) ([]audio.Device, error) {
	channels, err := s.session.GuildChannels(s.guildID)
	if err != nil {
		return nil, fmt.Errorf("discord: list channels of guild %q: %w", s.guildID, err)
	}
	var devs []audio.Device
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildVoice {
			continue
		}
		devs = append(devs, audio.Device{ID: ch.ID, Name: ch.Name})
	}
	return devs, nil
}

// Close leaves the voice channel. It is safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	vc, done := s.vc, s.done
	s.mu.Unlock()

	if vc == nil {
		return nil
	}
	close(done)
	return s.leave(vc)
}

// udp_input.go - UDP ingress: image lines and IMU samples

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Wire format.  Every packet starts with a one-byte tag.
const (
	PACKET_TAG_IMAGE = 0x01
	PACKET_TAG_IMU   = 0x02
)

// IMU payload: 9 little-endian float32 values.
const imuPayloadBytes = 9 * 4

// IMUSample is one decoded inertial sample.  Angles are pre-integrated on
// the sensor side and arrive in radians.
type IMUSample struct {
	Accel       [3]float32
	Gyro        [3]float32
	Angles      [3]float32
	TimestampUS int64
}

// IMUState publishes the latest sample through an atomic pointer; readers
// never block the UDP thread.
type IMUState struct {
	latest atomic.Pointer[IMUSample]
}

func (s *IMUState) Publish(sample *IMUSample) { s.latest.Store(sample) }
func (s *IMUState) Latest() *IMUSample        { return s.latest.Load() }

// UDPInput owns the listening socket and the receive loop.  Image packets
// run through the preprocessor in this same thread (non-RT); IMU packets
// are decoded and published.
type UDPInput struct {
	cfg  *Config
	pre  *Preprocessor
	imu  *IMUState
	conn *net.UDPConn

	running *atomic.Bool
	wg      sync.WaitGroup
	epoch   time.Time

	recvBuf []byte
	badTags atomic.Uint64
	short   atomic.Uint64
}

func NewUDPInput(cfg *Config, pre *Preprocessor, imu *IMUState, running *atomic.Bool) (*UDPInput, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.UDPListen)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %s: %w", cfg.UDPListen, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp: listen %s: %w", cfg.UDPListen, err)
	}
	return &UDPInput{
		cfg:     cfg,
		pre:     pre,
		imu:     imu,
		conn:    conn,
		running: running,
		epoch:   time.Now(),
		recvBuf: make([]byte, 1+3*cfg.LineLength),
	}, nil
}

// Addr reports the bound listen address (useful with port 0).
func (u *UDPInput) Addr() net.Addr { return u.conn.LocalAddr() }

// Start launches the receive loop.
func (u *UDPInput) Start() {
	u.wg.Add(1)
	go u.loop()
}

// Stop closes the socket, which unblocks the loop, and joins it.
func (u *UDPInput) Stop() {
	u.conn.Close()
	u.wg.Wait()
	if n := u.badTags.Load(); n > 0 {
		log.Warn("udp: packets with unknown tag discarded", "count", n)
	}
	if n := u.short.Load(); n > 0 {
		log.Warn("udp: truncated packets discarded", "count", n)
	}
}

func (u *UDPInput) loop() {
	defer u.wg.Done()
	lineLen := u.cfg.LineLength
	for u.running.Load() {
		u.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := u.conn.ReadFromUDP(u.recvBuf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !u.running.Load() {
				return
			}
			log.Error("udp: read failed", "err", err)
			return
		}
		if n < 1 {
			continue
		}
		ts := time.Since(u.epoch).Microseconds()
		switch u.recvBuf[0] {
		case PACKET_TAG_IMAGE:
			if n < 1+3*lineLen {
				u.short.Add(1)
				continue
			}
			r := u.recvBuf[1 : 1+lineLen]
			g := u.recvBuf[1+lineLen : 1+2*lineLen]
			b := u.recvBuf[1+2*lineLen : 1+3*lineLen]
			u.pre.Process(r, g, b, ts)
		case PACKET_TAG_IMU:
			if n < 1+imuPayloadBytes {
				u.short.Add(1)
				continue
			}
			u.imu.Publish(decodeIMU(u.recvBuf[1:1+imuPayloadBytes], ts))
		default:
			u.badTags.Add(1)
		}
	}
}

func decodeIMU(payload []byte, ts int64) *IMUSample {
	s := &IMUSample{TimestampUS: ts}
	off := 0
	read := func() float32 {
		v := binary.LittleEndian.Uint32(payload[off:])
		off += 4
		return math.Float32frombits(v)
	}
	for i := 0; i < 3; i++ {
		s.Accel[i] = read()
	}
	for i := 0; i < 3; i++ {
		s.Gyro[i] = read()
	}
	for i := 0; i < 3; i++ {
		s.Angles[i] = read()
	}
	return s
}

// udp_input_test.go - UDP ingress decode and receive loop

/*
(c) 2025 - 2026 Ondulab
https://github.com/ondulab/sp3ctra
License: GPLv3 or later
*/

package main

import (
	"encoding/binary"
	"math"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestDecodeIMU(t *testing.T) {
	payload := make([]byte, imuPayloadBytes)
	values := []float32{1, -2, 3, 0.5, -0.5, 0.25, math.Pi, -math.Pi, 0}
	for i, v := range values {
		binary.LittleEndian.PutUint32(payload[i*4:], math.Float32bits(v))
	}

	s := decodeIMU(payload, 12345)
	if s.TimestampUS != 12345 {
		t.Errorf("timestamp = %d", s.TimestampUS)
	}
	got := []float32{
		s.Accel[0], s.Accel[1], s.Accel[2],
		s.Gyro[0], s.Gyro[1], s.Gyro[2],
		s.Angles[0], s.Angles[1], s.Angles[2],
	}
	for i := range values {
		if got[i] != values[i] {
			t.Errorf("field %d = %f, want %f", i, got[i], values[i])
		}
	}
}

func TestUDPInput_ImageAndIMUPackets(t *testing.T) {
	cfg := smallImageConfig()
	cfg.UDPListen = "127.0.0.1:0"
	pub := NewLinePublisher(cfg)
	pre := NewPreprocessor(cfg, pub)
	imu := &IMUState{}
	var running atomic.Bool
	running.Store(true)

	in, err := NewUDPInput(cfg, pre, imu, &running)
	if err != nil {
		t.Fatal(err)
	}
	in.Start()
	defer func() {
		running.Store(false)
		in.Stop()
	}()

	conn, err := net.Dial("udp", in.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// One white image line.
	pkt := make([]byte, 1+3*cfg.LineLength)
	pkt[0] = PACKET_TAG_IMAGE
	for i := 1; i < len(pkt); i++ {
		pkt[i] = 255
	}
	if _, err := conn.Write(pkt); err != nil {
		t.Fatal(err)
	}

	// One IMU sample.
	imuPkt := make([]byte, 1+imuPayloadBytes)
	imuPkt[0] = PACKET_TAG_IMU
	binary.LittleEndian.PutUint32(imuPkt[1:], math.Float32bits(9.81))
	if _, err := conn.Write(imuPkt); err != nil {
		t.Fatal(err)
	}

	// Junk that must be counted, not crash anything.
	conn.Write([]byte{0x7F, 1, 2, 3})
	conn.Write([]byte{PACKET_TAG_IMAGE, 1, 2}) // truncated

	deadline := time.Now().Add(5 * time.Second)
	dst := newImageLine(cfg.LineLength, cfg.NumNotes(), cfg.DMXZones, fftBinCount(cfg.LineLength))
	for {
		pub.Snapshot(dst)
		if dst.Grayscale[0] > 0.99 && imu.Latest() != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("packets not processed: gray=%f imu=%v", dst.Grayscale[0], imu.Latest())
		}
		time.Sleep(time.Millisecond)
	}

	if got := imu.Latest().Accel[0]; got != 9.81 {
		t.Errorf("imu accel x = %f, want 9.81", got)
	}
}

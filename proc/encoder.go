package proc

import (
	"errors"
	"math"

	"github.com/asticode/go-astiav"
)

// PCM frame geometry for one 20ms opus frame at 48kHz stereo s16le.
const (
	FrameSamples = 960
	FrameBytes   = FrameSamples * LiveChannels * 2
)

func init() {
	astiav.SetLogLevel(astiav.LogLevelFatal)
}

// OpusEncoder turns 20ms s16le stereo frames into opus packets.
type OpusEncoder struct {
	ctx    *astiav.CodecContext
	frame  *astiav.Frame
	packet *astiav.Packet
	pts    int64
}

func NewOpusEncoder() (*OpusEncoder, error) {
	e := astiav.FindEncoderByName("libopus")
	if e == nil {
		e = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if e == nil {
		return nil, errors.New("no opus encoder")
	}

	enc := &OpusEncoder{
		ctx:    astiav.AllocCodecContext(e),
		frame:  astiav.AllocFrame(),
		packet: astiav.AllocPacket(),
	}
	enc.ctx.SetBitRate(192000)
	enc.ctx.SetSampleRate(LiveSampleRate)
	enc.ctx.SetChannelLayout(astiav.ChannelLayoutStereo)
	enc.ctx.SetSampleFormat(astiav.SampleFormatS16)
	enc.ctx.SetTimeBase(astiav.NewRational(1, LiveSampleRate))

	o := astiav.NewDictionary()
	defer o.Free()
	o.Set("vbr", "on", 0)
	o.Set("compression_level", "10", 0)
	o.Set("frame_size", "20", 0)
	if err := enc.ctx.Open(e, o); err != nil {
		enc.Close()
		return nil, err
	}

	enc.frame.SetNbSamples(FrameSamples)
	enc.frame.SetChannelLayout(astiav.ChannelLayoutStereo)
	enc.frame.SetSampleFormat(astiav.SampleFormatS16)
	enc.frame.SetSampleRate(LiveSampleRate)
	if err := enc.frame.AllocBuffer(0); err != nil {
		enc.Close()
		return nil, err
	}
	return enc, nil
}

// Encode encodes one PCM frame and hands every resulting packet to out.
func (e *OpusEncoder) Encode(pcm []byte, out func([]byte)) error {
	if err := e.frame.MakeWritable(); err != nil {
		return err
	}
	if err := e.frame.Data().SetBytes(pcm, 1); err != nil {
		return err
	}
	e.frame.SetPts(e.pts)
	e.pts += FrameSamples
	if err := e.ctx.SendFrame(e.frame); err != nil {
		return err
	}
	e.drain(out)
	return nil
}

// Flush drains the packets still buffered in the encoder.
func (e *OpusEncoder) Flush(out func([]byte)) {
	_ = e.ctx.SendFrame(nil)
	e.drain(out)
}

func (e *OpusEncoder) drain(out func([]byte)) {
	for {
		e.packet.Unref()
		if e.ctx.ReceivePacket(e.packet) != nil {
			return
		}
		d := e.packet.Data()
		fd := make([]byte, len(d))
		copy(fd, d)
		out(fd)
	}
}

func (e *OpusEncoder) Close() {
	if e.packet != nil {
		e.packet.Free()
	}
	if e.frame != nil {
		e.frame.Free()
	}
	if e.ctx != nil {
		e.ctx.Free()
	}
}

// ScalePCM multiplies s16le samples in place by gain, clamping to int16.
func ScalePCM(data []byte, gain float64) {
	if gain == 1 {
		return
	}
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(uint16(data[i]) | uint16(data[i+1])<<8)
		scaled := math.Round(float64(sample) * gain)
		if scaled > math.MaxInt16 {
			scaled = math.MaxInt16
		} else if scaled < math.MinInt16 {
			scaled = math.MinInt16
		}
		v := int16(scaled)
		data[i] = byte(v)
		data[i+1] = byte(uint16(v) >> 8)
	}
}

package platform

// Telegram is the default target: bots may upload at most 50MB per file and
// H.264/AAC in MP4 plays inline on every client.
type Telegram struct{}

func init() {
	Register(&Telegram{})
}

func (p *Telegram) GetName() string {
	return "telegram"
}

func (p *Telegram) GetMaxFileSize() int64 {
	return 50 * 1024 * 1024 // 50MB bot upload limit
}

func (p *Telegram) GetVideoCodec() string {
	return "libx264"
}

func (p *Telegram) GetAudioCodec() string {
	return "aac"
}

func (p *Telegram) GetVideoBitrate() string {
	return "2M"
}

func (p *Telegram) GetAudioBitrate() string {
	return "128k"
}

func (p *Telegram) GetOutputFormat() string {
	return "mp4"
}

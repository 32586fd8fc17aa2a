package platform

// WebM targets browsers and web embeds, mostly useful with the split command.
type WebM struct{}

func init() {
	Register(&WebM{})
}

func (p *WebM) GetName() string {
	return "webm"
}

func (p *WebM) GetMaxFileSize() int64 {
	return 0 // no limit
}

func (p *WebM) GetVideoCodec() string {
	return "libvpx-vp9"
}

func (p *WebM) GetAudioCodec() string {
	return "libopus"
}

func (p *WebM) GetVideoBitrate() string {
	return "2M"
}

func (p *WebM) GetAudioBitrate() string {
	return "96k"
}

func (p *WebM) GetOutputFormat() string {
	return "webm"
}

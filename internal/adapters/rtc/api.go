package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	ICEServers                 []ICEServer `mapstructure:"ice_servers"`
	LogLevel                   string      `mapstructure:"log_level"`
	DisableDefaultInterceptors bool        `mapstructure:"disable_default_interceptors"`
	PortMin                    uint16      `mapstructure:"port_min"`
	PortMax                    uint16      `mapstructure:"port_max"`
}

func DefaultConfig() Config {
	return Config{
		ICEServers: []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		LogLevel:   "warn",
	}
}

// APIFactory builds peer connections sharing one media engine, interceptor
// registry and setting engine.
type APIFactory struct {
	api  *webrtc.API
	conf webrtc.Configuration
}

func NewAPIFactory(cfg Config) (*APIFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if !cfg.DisableDefaultInterceptors {
		if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
			return nil, err
		}
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.WarnLevel
	}
	s := webrtc.SettingEngine{LoggerFactory: NewPionLogger(level)}
	if cfg.PortMin > 0 && cfg.PortMax >= cfg.PortMin {
		if err := s.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, err
		}
		log.Info().Str("module", "webrtc").Uint16("min", cfg.PortMin).Uint16("max", cfg.PortMax).Msg("ephemeral UDP port range")
	}

	c := webrtc.Configuration{ICEServers: []webrtc.ICEServer{}}
	for _, server := range cfg.ICEServers {
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}

	return &APIFactory{
		api:  webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)),
		conf: c,
	}, nil
}

func (a *APIFactory) NewPeer(tag string) (*Peer, error) {
	pc, err := a.api.NewPeerConnection(a.conf)
	if err != nil {
		return nil, err
	}
	return &Peer{pc: pc, tag: tag, senders: make(map[string]*webrtc.RTPSender)}, nil
}

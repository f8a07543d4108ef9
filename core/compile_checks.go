package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ MetricsRecorder = NopMetricsRecorder{}
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ RawConfigLoader = FileConfigLoader{}
	_ RawConfigLoader = StaticRawConfigLoader{}
	_ OptionsResolver = GoOptionsResolver{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)

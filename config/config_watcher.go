package config

import (
	"fmt"

	"PPChat/global"
	"PPChat/logger"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// Watcher keeps the runtime tunables in sync with a Nacos config entry.
type Watcher struct {
	client config_client.IConfigClient
	dataID string
	group  string
}

// StartNacosWatcher reads the entry once, applies it, then listens for changes.
func StartNacosWatcher(cfg global.NacosConfig) (*Watcher, error) {
	serverConfigs := []constant.ServerConfig{
		*constant.NewServerConfig(cfg.Host, cfg.Port),
	}
	clientConfig := *constant.NewClientConfig(
		constant.WithTimeoutMs(5000),
		constant.WithNamespaceId(cfg.Namespace),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel("warn"),
	)

	client, err := clients.NewConfigClient(vo.NacosClientParam{
		ClientConfig:  &clientConfig,
		ServerConfigs: serverConfigs,
	})
	if err != nil {
		return nil, fmt.Errorf("nacos client: %w", err)
	}
	w := &Watcher{client: client, dataID: cfg.DataID, group: cfg.Group}

	content, err := client.GetConfig(vo.ConfigParam{DataId: w.dataID, Group: w.group})
	if err != nil {
		return nil, fmt.Errorf("nacos get %s/%s: %w", w.group, w.dataID, err)
	}
	if content != "" {
		if err := ApplyTunables([]byte(content)); err != nil {
			logger.Warn("[nacos] initial tunables rejected", zap.Error(err))
		}
	}

	err = client.ListenConfig(vo.ConfigParam{
		DataId: w.dataID,
		Group:  w.group,
		OnChange: func(namespace, group, dataId, data string) {
			if err := ApplyTunables([]byte(data)); err != nil {
				logger.Warn("[nacos] tunables rejected", zap.String("data_id", dataId), zap.Error(err))
				return
			}
			logger.Info("[nacos] tunables reloaded", zap.String("data_id", dataId), zap.Any("tunables", global.Current()))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("nacos listen %s/%s: %w", w.group, w.dataID, err)
	}
	return w, nil
}

// ApplyTunables overlays a YAML document on the current tunables and swaps them in.
func ApplyTunables(data []byte) error {
	t := global.Current()
	if err := global.DecodeYAML(data, &t); err != nil {
		return err
	}
	return global.SetTunables(t)
}

func (w *Watcher) Close() {
	if w == nil || w.client == nil {
		return
	}
	_ = w.client.CancelListenConfig(vo.ConfigParam{DataId: w.dataID, Group: w.group})
	w.client.CloseClient()
}

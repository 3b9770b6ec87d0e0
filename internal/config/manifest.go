package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest 是可选的 YAML 资源清单，构建流水线可以单独生成它而不必改动主配置。
//
//	static:
//	  - /
//	  - /index.html
//	remote:
//	  - https://cdn.example.com/lib.js
type Manifest struct {
	Static []string `yaml:"static"`
	Remote []string `yaml:"remote"`
}

// LoadManifest 读取 YAML 清单文件。
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("读取资源清单失败: %w", err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("解析资源清单失败: %w", err)
	}
	return manifest, nil
}

// apply 用清单中声明的列表替换配置中的同名列表，未声明的保持不变。
func (m Manifest) apply(agent *AgentConfig) {
	if m.Static != nil {
		agent.StaticAssets = append([]string(nil), m.Static...)
	}
	if m.Remote != nil {
		agent.RemoteAssets = append([]string(nil), m.Remote...)
	}
}

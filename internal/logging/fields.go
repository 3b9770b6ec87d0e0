package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供版本/分类/命中状态字段，供拦截日志复用。
func RequestFields(version, class, strategy, url string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"cache_version": version,
		"class":         class,
		"strategy":      strategy,
		"url":           url,
		"cache_hit":     cacheHit,
	}
}

// GenerationFields 描述代际生命周期事件。
func GenerationFields(id, version, state string) logrus.Fields {
	return logrus.Fields{
		"action":        "lifecycle",
		"generation_id": id,
		"cache_version": version,
		"state":         state,
	}
}

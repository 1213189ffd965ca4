package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// EventFields 描述一次生命周期事件（install/activate），供控制器与宿主复用。
func EventFields(event, version, cacheName string) logrus.Fields {
	return logrus.Fields{
		"action":     event,
		"version":    version,
		"cache_name": cacheName,
	}
}

// FetchFields 提供请求方法/URL/命中状态字段，供拦截请求日志复用。
func FetchFields(method, url, cacheName string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"action":     "fetch",
		"method":     method,
		"url":        url,
		"cache_name": cacheName,
		"cache_hit":  cacheHit,
	}
}

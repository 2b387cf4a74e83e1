package redisstore

// DefaultPrefix namespaces all keys when no prefix is configured.
const DefaultPrefix = "flobus"

type keys struct{ prefix string }

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return keys{prefix: prefix}
}

func (k keys) queue(name, suffix string) string { return k.prefix + ":q:" + name + ":" + suffix }
func (k keys) msgs(name string) string          { return k.queue(name, "msgs") }
func (k keys) pending(name string) string       { return k.queue(name, "pending") }
func (k keys) dlq(name string) string           { return k.queue(name, "dlq") }
func (k keys) seq(name string) string           { return k.queue(name, "seq") }
func (k keys) journal() string                  { return k.prefix + ":journal" }
func (k keys) checkpoints() string              { return k.prefix + ":checkpoints" }

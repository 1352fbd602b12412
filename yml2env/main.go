// Exports the values in the env.yaml file in a way that allows
// setting them in environment variables in a bash script.
//
// Nested keys are joined with an underscore and every name gets the
// GAMESITE_ prefix that config.FromEnv reads, e.g. smtp.host becomes
// GAMESITE_SMTP_HOST.
//
// E.g.:
//
//    eval "$(go run ./yml2env)"
package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

var filename = flag.String("f", "env.yaml", "The YAML file to export.")

func main() {
	flag.Parse()
	b, err := ioutil.ReadFile(*filename)
	if err != nil {
		log.Fatalf("Failed to open file: %s", err)
	}
	cfg := map[string]interface{}{}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		log.Fatalf("Not a valid yaml file: %s", err)
	}
	for _, line := range exports(cfg) {
		fmt.Println(line)
	}
}

func exports(cfg map[string]interface{}) []string {
	flat := map[string]string{}
	flatten("GAMESITE", cfg, flat)
	ret := make([]string, 0, len(flat))
	for key, value := range flat {
		ret = append(ret, fmt.Sprintf("export %s=%s", key, shellQuote(value)))
	}
	sort.Strings(ret)
	return ret
}

// shellQuote single quotes s, so the shell expands nothing inside it.
func shellQuote(s string) string {
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}

func flatten(prefix string, value interface{}, out map[string]string) {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, child := range v {
			flatten(prefix+"_"+strings.ToUpper(key), child, out)
		}
	case map[interface{}]interface{}:
		for key, child := range v {
			flatten(prefix+"_"+strings.ToUpper(fmt.Sprint(key)), child, out)
		}
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(parts, ",")
	default:
		out[prefix] = fmt.Sprint(v)
	}
}

package env

import (
	"log"
	"strings"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zenv"
)

type EnvStruct struct {
	HOME     string `zog:"HOME"`
	BASE_URL string `zog:"TASKWATCH_BASE_URL"`
	SESSION  string `zog:"TASKWATCH_SESSION"`
	DATA_DIR string `zog:"TASKWATCH_DATA_DIR"`
}

var env *EnvStruct

var EnvSchema = z.Struct(z.Shape{
	"HOME":     z.String(),
	"BASE_URL": z.String().Optional().Trim(),
	"SESSION":  z.String().Optional().Trim(),
	"DATA_DIR": z.String().Optional().Trim(),
})

func Get() *EnvStruct {
	if env == nil {
		env = &EnvStruct{}
		errs := EnvSchema.Parse(zenv.NewDataProvider(), env)
		if errs != nil {
			log.Fatal("[Taskwatch] Failed to parse environment variables", errs)
		}
		env.BASE_URL = strings.TrimRight(env.BASE_URL, "/")
	}
	return env
}

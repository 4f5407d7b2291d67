package main

import (
	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/pase-pipeline/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

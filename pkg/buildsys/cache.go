package buildsys

import (
	"context"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// CacheFile is the name of the parsed task cache inside the project root.
const CacheFile = ".tasks.cache"

func WriteCache(file string, options map[string]string, list TaskList) error {
	handle, err := os.Create(file)
	if err != nil {
		return err
	}
	defer handle.Close()

	encoder := gob.NewEncoder(handle)
	err = encoder.Encode(options)
	if err != nil {
		return err
	}

	return encoder.Encode(list)
}

func ReadCache(file string) (map[string]string, TaskList, error) {
	handle, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	defer handle.Close()

	decoder := gob.NewDecoder(handle)

	var options map[string]string
	err = decoder.Decode(&options)
	if err != nil {
		return nil, nil, err
	}

	var result TaskList
	err = decoder.Decode(&result)
	if err != nil {
		return options, nil, err
	}

	return options, result, nil
}

// LoadTasks returns the tasks declared by the given script. The parsed list is cached
// in the project root and reused as long as the script didn't change and the same
// options were passed.
func LoadTasks(ctx context.Context, scriptFile, projectRoot string, options map[string]string) (TaskList, error) {
	cacheFile := filepath.Join(projectRoot, CacheFile)

	fresh, err := cacheIsFresh(cacheFile, scriptFile)
	if err != nil {
		return nil, err
	}

	if fresh {
		cachedOptions, list, err := ReadCache(cacheFile)
		if err == nil && sameOptions(cachedOptions, options) {
			log(ctx).Debug().Str("path", cacheFile).Msg("using cached task list")
			return list, nil
		}

		if err != nil {
			log(ctx).Warn().Err(err).Msg("ignoring unreadable task cache")
		}
	}

	list, _, err := RunScript(ctx, scriptFile, projectRoot, options, true)
	if err != nil {
		return nil, err
	}

	err = WriteCache(cacheFile, options, list)
	if err != nil {
		log(ctx).Warn().Err(err).Msg("failed to write task cache")
	}

	return list, nil
}

func cacheIsFresh(cacheFile, scriptFile string) (bool, error) {
	cacheInfo, err := os.Stat(cacheFile)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, eris.Wrapf(err, "failed to check %s", cacheFile)
	}

	scriptInfo, err := os.Stat(scriptFile)
	if err != nil {
		return false, eris.Wrapf(err, "failed to check %s", scriptFile)
	}

	return cacheInfo.ModTime().After(scriptInfo.ModTime()), nil
}

func sameOptions(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}

	for key, value := range a {
		other, ok := b[key]
		if !ok || other != value {
			return false
		}
	}
	return true
}

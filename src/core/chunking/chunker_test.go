package chunking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitIntoChunksEmpty(t *testing.T) {
	assert.Empty(t, SplitIntoChunks("", DefaultMinLen))
	assert.Empty(t, SplitIntoChunks("   \n\t  ", DefaultMinLen))
	assert.NotNil(t, SplitIntoChunks("", DefaultMinLen))
}

func TestSplitIntoChunksFallback(t *testing.T) {
	assert.Equal(t, []string{"short."}, SplitIntoChunks("short.", DefaultMinLen))
	assert.Equal(t, []string{"Да. Нет."}, SplitIntoChunks("  Да.\n\n Нет. ", DefaultMinLen))
}

func TestSplitIntoChunksSentences(t *testing.T) {
	text := "Назовите основные причины войны.   Объясните, почему это важно сегодня!\nКоротко. Что было дальше в истории страны?"
	chunks := SplitIntoChunks(text, DefaultMinLen)
	assert.Equal(t, []string{
		"Назовите основные причины войны.",
		"Объясните, почему это важно сегодня!",
		"Что было дальше в истории страны?",
	}, chunks)
}

func TestSplitIntoChunksKeepsAbbreviationsWithoutSpace(t *testing.T) {
	chunks := SplitIntoChunks("Версия 1.5 вышла вчера вечером. Новая версия выйдет завтра утром.", 10)
	assert.Equal(t, []string{"Версия 1.5 вышла вчера вечером.", "Новая версия выйдет завтра утром."}, chunks)
}

func TestSplitIntoChunksCountsRunes(t *testing.T) {
	// 10 кириллических символов занимают 20 байт
	chunks := SplitIntoChunks("Абвгдеёжзи. Клмнопрстуфхцчшщ.", 12)
	assert.Equal(t, []string{"Клмнопрстуфхцчшщ."}, chunks)
}

func TestSplitSentences(t *testing.T) {
	sentences := SplitSentences("Первое предложение. Второе!\nТретье?? \n\n")
	assert.Equal(t, []string{"Первое предложение", "Второе", "Третье"}, sentences)
	assert.Empty(t, SplitSentences(""))
}

func TestTokenSet(t *testing.T) {
	set := TokenSet("Кто-то пришел. Кто-то ушел, а GPT-4 остался; пришел!")
	assert.Len(t, set, 6)
	assert.Contains(t, set, "кто-то")
	assert.Contains(t, set, "gpt-4")
	assert.Contains(t, set, "пришел")
	assert.Empty(t, TokenSet("   ...  "))
}

func TestJaccard(t *testing.T) {
	a := TokenSet("кошка сидит на окне")
	b := TokenSet("собака сидит на полу")
	empty := TokenSet("")

	assert.InDelta(t, 2.0/6.0, Jaccard(a, b), 1e-9)
	assert.Equal(t, Jaccard(a, b), Jaccard(b, a))
	assert.Equal(t, 1.0, Jaccard(a, a))
	assert.Equal(t, 0.0, Jaccard(a, empty))
	assert.Equal(t, 0.0, Jaccard(empty, a))
	assert.Equal(t, 0.0, Jaccard(empty, empty))
}
